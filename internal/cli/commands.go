package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	digest "github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v2"

	"github.com/meigma/filestore"
)

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "store a file (or stdin) under a key",
		ArgsUsage: "KEY [FILE]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "remove the blob after this long",
			},
		},
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			src := c.App.Reader
			if path := c.Args().Get(1); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			var opts []filestore.SaveOption
			if ttl := c.Duration("ttl"); ttl != 0 {
				opts = append(opts, filestore.SaveWithTTL(ttl))
			}
			return withStore(c, func(s *filestore.Store) error {
				entry, err := s.Save(c.Context, key, src, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", entry.Key, humanize.IBytes(uint64(entry.Size)), entry.Digest)
				return nil
			})
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "write a blob to a file (or stdout)",
		ArgsUsage: "KEY [FILE]",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			return withStore(c, func(s *filestore.Store) error {
				rc, err := s.Read(key)
				if err != nil {
					return err
				}
				defer rc.Close()

				dst := c.App.Writer
				if path := c.Args().Get(1); path != "" && path != "-" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					dst = f
				}
				_, err = io.Copy(dst, rc)
				return err
			})
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete blobs",
		ArgsUsage: "KEY...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("at least one key is required")
			}
			return withStore(c, func(s *filestore.Store) error {
				var errs []error
				for _, key := range c.Args().Slice() {
					errs = append(errs, s.Delete(key))
				}
				return errors.Join(errs...)
			})
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "show blob metadata",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			return withStore(c, func(s *filestore.Store) error {
				entry, err := s.Stat(key)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "key\t%s\n", entry.Key)
				fmt.Fprintf(tw, "size\t%s (%d bytes)\n", humanize.IBytes(uint64(entry.Size)), entry.Size)
				fmt.Fprintf(tw, "modified\t%s (%s)\n", entry.ModTime.Format(time.RFC3339), humanize.Time(entry.ModTime))
				if entry.TTL > 0 {
					fmt.Fprintf(tw, "expires\t%s\n", entry.ModTime.Add(entry.TTL).Format(time.RFC3339))
				} else {
					fmt.Fprintf(tw, "expires\tnever\n")
				}
				return tw.Flush()
			})
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "check a blob against a digest",
		ArgsUsage: "KEY DIGEST",
		Action: func(c *cli.Context) error {
			key, err := keyArg(c)
			if err != nil {
				return err
			}
			want := digest.Digest(c.Args().Get(1))
			return withStore(c, func(s *filestore.Store) error {
				if err := s.Verify(key, want); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s\tOK\n", key)
				return nil
			})
		},
	}
}

func dfCommand() *cli.Command {
	return &cli.Command{
		Name:  "df",
		Usage: "show space usage",
		Action: func(c *cli.Context) error {
			return withStore(c, func(s *filestore.Store) error {
				used, err := s.UsedSpace()
				if err != nil {
					return err
				}
				free, err := s.FreeSpace()
				if err != nil {
					return err
				}
				frac, err := s.FreeSpaceFraction()
				if err != nil {
					return err
				}
				sys, err := s.SystemSize()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "capacity\t%s\n", humanize.IBytes(uint64(s.Capacity())))
				fmt.Fprintf(tw, "used\t%s\n", humanize.IBytes(uint64(used)))
				fmt.Fprintf(tw, "free\t%s (%.1f%%)\n", humanize.IBytes(uint64(free)), frac*100)
				fmt.Fprintf(tw, "system\t%s\n", humanize.IBytes(uint64(sys)))
				return tw.Flush()
			})
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "evict the oldest blobs until enough space is free",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "fraction",
				Usage: "fraction of capacity to free, in [0, 1]",
			},
			&cli.StringFlag{
				Name:  "bytes",
				Usage: "amount of space to free, e.g. 512MiB",
			},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("fraction") == c.IsSet("bytes") {
				return errors.New("exactly one of --fraction or --bytes is required")
			}
			return withStore(c, func(s *filestore.Store) error {
				var freed int64
				var err error
				if c.IsSet("fraction") {
					freed, err = s.Purge(c.Float64("fraction"))
				} else {
					var target uint64
					if target, err = humanize.ParseBytes(c.String("bytes")); err != nil {
						return err
					}
					freed, err = s.PurgeBytes(int64(min(target, uint64(s.Capacity()))))
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "freed %s\n", humanize.IBytes(uint64(freed)))
				return nil
			})
		},
	}
}

func gcCommand() *cli.Command {
	return &cli.Command{
		Name:  "gc",
		Usage: "remove empty shard directories",
		Action: func(c *cli.Context) error {
			return withStore(c, func(s *filestore.Store) error {
				n, err := s.DeleteEmptyDirectories()
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "removed %d directories\n", n)
				return nil
			})
		},
	}
}
