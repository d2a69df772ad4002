// Package builder materializes the deployment directories of configurations
// by invoking the external build tool once per configuration file.
package builder

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/pkg/utils"
)

// Tool builds configurations with an external command. For every
// configuration file it runs
//
//	<Command...> --cache-dir <CacheDir> --output <outputDir>/<name> <file>
//
// where name is the file name without its extension.
type Tool struct {
	Command  []string
	CacheDir string
	Log      logrus.FieldLogger
}

// New returns a Tool running command. If logger is nil, logging is disabled.
func New(command []string, cacheDir string, logger logrus.FieldLogger) *Tool {
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}
	return &Tool{Command: command, CacheDir: cacheDir, Log: logger}
}

// Build builds the configuration files of sourceDir into outputDir. If
// selected is not empty, only the named files (relative to sourceDir) are
// built. The first failing configuration aborts the build.
func (t *Tool) Build(ctx context.Context, sourceDir string, selected []string, outputDir string) error {
	if len(t.Command) == 0 {
		return errors.New("no build command configured")
	}

	files, err := Select(sourceDir, selected)
	if err != nil {
		return err
	}

	err = utils.EnsureDirExists(outputDir)
	if err != nil {
		return errors.Wrap(err, "could not create output dir")
	}
	if t.CacheDir != "" {
		err = utils.EnsureDirExists(t.CacheDir)
		if err != nil {
			return errors.Wrap(err, "could not create cache dir")
		}
	}

	for _, f := range files {
		out := filepath.Join(outputDir, Name(f))
		args := append(append([]string{}, t.Command...), "--cache-dir", t.CacheDir, "--output", out, f)

		log := t.Log.WithField("configuration", Name(f))
		log.WithField("command", strings.Join(args, " ")).Info("building configuration")
		start := time.Now()

		_, err = utils.RunCmdContext(ctx, "", args)
		if err != nil {
			return errors.Wrapf(err, "could not build configuration %s", f)
		}
		log.Infof("built configuration in %s", units.HumanDuration(time.Since(start)))
	}

	return nil
}

// Select returns the configuration files to build: every regular file of
// sourceDir in lexical order, or only the selected ones if any are given.
func Select(sourceDir string, selected []string) ([]string, error) {
	err := utils.PathIsDir(sourceDir)
	if err != nil {
		return nil, errors.Wrap(err, "invalid configurations dir")
	}

	if len(selected) > 0 {
		files := make([]string, 0, len(selected))
		for _, s := range selected {
			p := filepath.Join(sourceDir, s)
			fi, err := os.Stat(p)
			if err != nil {
				return nil, errors.Wrapf(err, "unknown configuration '%s'", s)
			}
			if !fi.Mode().IsRegular() {
				return nil, fmt.Errorf("configuration '%s' is not a regular file", s)
			}
			files = append(files, p)
		}
		return files, nil
	}

	entries, err := ioutil.ReadDir(sourceDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Mode().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(sourceDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Name returns the configuration name of a configuration file: its base
// name without the extension.
func Name(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
