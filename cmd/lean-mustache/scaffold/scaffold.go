package scaffold

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

//go:embed all:skeleton
var skeleton embed.FS

const skeletonRoot = "skeleton"

// Write copies the skeleton project into dir. Existing files are left alone.
func Write(dir string) ([]string, error) {
	written := []string{}

	err := fs.WalkDir(skeleton, skeletonRoot, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		withoutPrefix := path.Clean("/" + strings.TrimPrefix(pth, skeletonRoot))
		withDirectory := filepath.Join(dir, filepath.FromSlash(withoutPrefix))

		if d.IsDir() {
			err = os.MkdirAll(withDirectory, 0o755)
			if err != nil {
				return fmt.Errorf("could not mkdir %s: %w", withDirectory, err)
			}
			return nil
		}

		_, err = os.Stat(withDirectory)
		if err == nil {
			return nil
		}

		f, err := skeleton.Open(pth)
		if err != nil {
			return fmt.Errorf("could not open skeleton file %s: %w", pth, err)
		}
		defer f.Close()

		of, err := os.OpenFile(withDirectory, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("could not create file %s: %w", withDirectory, err)
		}
		defer of.Close()

		_, err = io.Copy(of, f)
		if err != nil {
			return fmt.Errorf("could not copy skeleton file %s to %s: %w", pth, withDirectory, err)
		}

		written = append(written, withDirectory)
		return nil
	})

	return written, err
}

func Command() *cli.Command {
	return &cli.Command{
		Name:      "scaffold",
		Usage:     "create a template project with a config file and example templates",
		ArgsUsage: "<directory>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("directory name must be provided")
			}

			written, err := Write(c.Args().First())
			if err != nil {
				return err
			}

			for _, w := range written {
				fmt.Fprintln(c.App.Writer, w)
			}

			return nil
		},
	}
}
