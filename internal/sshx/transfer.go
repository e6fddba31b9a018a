// internal/sshx/transfer.go
package sshx

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"

	"sessionbridge-service/internal/pkg/xerrors"
)

const chunkSize = 32 * 1024

// remoteFS is the slice of an SFTP client the transfer service uses. Tests
// substitute an in-memory implementation.
type remoteFS interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Close() error
}

type sftpFS struct {
	client *sftp.Client
}

func (f *sftpFS) Open(p string) (io.ReadCloser, error)    { return f.client.Open(p) }
func (f *sftpFS) Create(p string) (io.WriteCloser, error) { return f.client.Create(p) }
func (f *sftpFS) ReadDir(p string) ([]os.FileInfo, error) { return f.client.ReadDir(p) }
func (f *sftpFS) Close() error                            { return f.client.Close() }

// UploadResult reports one finished upload.
type UploadResult struct {
	RemotePath string
	Bytes      int64
	Err        error
}

// DownloadResult carries a downloaded file. Filename is the basename of the
// remote path, for content-disposition.
type DownloadResult struct {
	Filename string
	Data     []byte
	Err      error
}

// FileEntry is one directory listing row.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDir"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"modTime"`
}

// Transfer moves files over a session's SFTP subsystem in bounded chunks so
// large files never sit fully in memory on the way up.
type Transfer struct {
	openFS func(w *Wrapper) (remoteFS, error)
}

func NewTransfer() *Transfer {
	return &Transfer{
		openFS: func(w *Wrapper) (remoteFS, error) {
			client, err := sftp.NewClient(w.Client())
			if err != nil {
				return nil, err
			}
			return &sftpFS{client: client}, nil
		},
	}
}

// Upload writes r to remotePath chunk by chunk. It returns immediately; the
// result arrives on the channel.
func (t *Transfer) Upload(w *Wrapper, remotePath string, r io.Reader) <-chan UploadResult {
	out := make(chan UploadResult, 1)
	go func() {
		defer close(out)
		n, err := t.upload(w, remotePath, r)
		out <- UploadResult{RemotePath: remotePath, Bytes: n, Err: err}
	}()
	return out
}

func (t *Transfer) upload(w *Wrapper, remotePath string, r io.Reader) (int64, error) {
	fs, err := t.openFS(w)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open sftp subsystem: %v", err))
	}
	defer fs.Close()

	dst, err := fs.Create(remotePath)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("create %s: %v", remotePath, err))
	}
	defer dst.Close()

	var total int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, xerrors.Wrap(xerrors.ErrRemoteOperation,
					fmt.Sprintf("write %s: %v", remotePath, writeErr))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("read upload payload: %v", readErr))
		}
	}

	w.Touch()
	return total, nil
}

// Download reads remotePath chunk by chunk and returns the assembled payload
// on the channel.
func (t *Transfer) Download(w *Wrapper, remotePath string) <-chan DownloadResult {
	out := make(chan DownloadResult, 1)
	go func() {
		defer close(out)
		data, err := t.download(w, remotePath)
		out <- DownloadResult{Filename: path.Base(remotePath), Data: data, Err: err}
	}()
	return out
}

func (t *Transfer) download(w *Wrapper, remotePath string) ([]byte, error) {
	fs, err := t.openFS(w)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open sftp subsystem: %v", err))
	}
	defer fs.Close()

	src, err := fs.Open(remotePath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open %s: %v", remotePath, err))
	}
	defer src.Close()

	var assembled bytes.Buffer
	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			assembled.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("read %s: %v", remotePath, readErr))
		}
	}

	w.Touch()
	return assembled.Bytes(), nil
}

// List returns the entries of a remote directory.
func (t *Transfer) List(w *Wrapper, remotePath string) ([]FileEntry, error) {
	fs, err := t.openFS(w)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open sftp subsystem: %v", err))
	}
	defer fs.Close()

	infos, err := fs.ReadDir(remotePath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("list %s: %v", remotePath, err))
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, FileEntry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			IsDir:   fi.IsDir(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime(),
		})
	}

	w.Touch()
	return entries, nil
}
