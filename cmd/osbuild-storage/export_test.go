package main

func MockRun(new func()) (restore func()) {
	saved := run
	run = new
	return func() {
		run = saved
	}
}

var (
	ParseConfig = parseConfig
	NewRootCmd  = newRootCmd
)
