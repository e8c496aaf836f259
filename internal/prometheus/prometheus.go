package prometheus

const (
	Namespace = "osbuild_storage"

	ProbeSubsystem = "probe"
	UdevSubsystem  = "udev"
	ModelSubsystem = "model"
)
