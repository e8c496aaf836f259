// Package jsondb stores documents as indented JSON files in a directory.
//
// Writes are atomic: a document is written to a temporary file which is
// renamed into place once complete, so readers never see partial files.
package jsondb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type JSONDatabase struct {
	dir  string
	perm os.FileMode
}

// New returns a database storing documents in dir. The directory is not
// created; errors surface on the first Read or Write.
func New(dir string, perm os.FileMode) *JSONDatabase {
	return &JSONDatabase{dir, perm}
}

// Dir returns the directory of the database.
func (db *JSONDatabase) Dir() string {
	return db.dir
}

// Read reads the document called name into document. It returns false
// without an error if the document does not exist.
func (db *JSONDatabase) Read(name string, document interface{}) (bool, error) {
	f, err := os.Open(filepath.Join(db.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("error accessing db file %s: %w", name, err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&document)
	if err != nil {
		return false, fmt.Errorf("error reading db file %s: %w", name, err)
	}

	return true, nil
}

// List returns the names of all documents in the database.
func (db *JSONDatabase) List() ([]string, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, fmt.Errorf("error listing db directory %s: %w", db.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Write stores document under name, replacing an existing document.
func (db *JSONDatabase) Write(name string, document interface{}) error {
	return writeFileAtomically(db.dir, name+".json", db.perm, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "    ")
		return enc.Encode(document)
	})
}

// writeFileAtomically replaces dir/filename with what write puts into a
// temporary file next to it. On error the old file is left alone.
func writeFileAtomically(dir, filename string, mode os.FileMode, write func(f *os.File) error) (err error) {
	tmp, err := os.CreateTemp(dir, filename+"-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, filename))
}
