package recordlog

import "os"

// FilePerm is the mode new record logs are created with.
const FilePerm = 0644

// IOManager abstracts the append-only file the log writes to.
type IOManager interface {
	// Write appends b in a single call.
	Write(b []byte) (int, error)
	// Sync flushes written data to stable storage.
	Sync() error
	// Size returns the current length in bytes.
	Size() (int64, error)
	Close() error
}

// FileIO is the os.File backed IOManager.
type FileIO struct {
	fd *os.File
}

// NewFileIOManager opens path for appending, creating it if needed.
func NewFileIOManager(path string) (*FileIO, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePerm)
	if err != nil {
		return nil, err
	}
	return &FileIO{fd: fd}, nil
}

func (f *FileIO) Write(b []byte) (int, error) {
	return f.fd.Write(b)
}

func (f *FileIO) Sync() error {
	return f.fd.Sync()
}

func (f *FileIO) Size() (int64, error) {
	st, err := f.fd.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f *FileIO) Close() error {
	return f.fd.Close()
}
