package utils

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PathIsDir returns an error if p does not exist or is not a directory.
func PathIsDir(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}

	if !fi.IsDir() {
		return errors.New("Path " + p + " is not a directory")
	}

	return nil
}

// EnsureDirExists verifies path is a directory and creates it, along with any
// missing parents, if it doesn't exist.
func EnsureDirExists(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if !fi.IsDir() {
			return errors.New(path + " is not a directory")
		}
	} else {
		if os.IsNotExist(err) {
			err = os.MkdirAll(path, 0755)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	return nil
}

// RunCmdContext runs the shell command denoted by args, using the first
// element as the command and the remained as its arguments, in dir unless it
// is empty. The command is killed when ctx is done.
// It returns the combined stderr/stdout output of the command.
func RunCmdContext(ctx context.Context, dir string, args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %s (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Tar walks the file tree rooted at root, adding each file or directory in the
// tree (including root) in a tar archive. The files are walked
// in lexical order, which makes the output deterministic.
func Tar(root string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		// Preserve directory structure when docker "untars" the archive
		hdr.Name, err = filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(hdr.Name)

		err = tw.WriteHeader(hdr)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		_, err = io.Copy(tw, f)
		if err != nil {
			f.Close()
			return err
		}

		err = f.Close()
		if err != nil {
			return err
		}

		return nil
	}

	err := filepath.Walk(root, walkFn)
	if err != nil {
		return nil, err
	}

	err = tw.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Untar extracts the tar archive read from r into dst, dropping the first
// strip components of every entry name. Entries escaping dst are rejected.
// Only directories and regular files are extracted.
func Untar(r io.Reader, dst string, strip int) error {
	err := EnsureDirExists(dst)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		parts := strings.Split(strings.Trim(filepath.ToSlash(hdr.Name), "/"), "/")
		if len(parts) <= strip {
			continue
		}
		root := filepath.Clean(dst)
		target := filepath.Join(root, filepath.Join(parts[strip:]...))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %s escapes %s", hdr.Name, dst)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0755)
			if err != nil {
				return err
			}
		case tar.TypeReg, tar.TypeRegA:
			err = os.MkdirAll(filepath.Dir(target), 0755)
			if err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode).Perm()|0600)
			if err != nil {
				return err
			}
			_, err = io.Copy(f, tr)
			if err != nil {
				f.Close()
				return err
			}
			err = f.Close()
			if err != nil {
				return err
			}
		}
	}
}
