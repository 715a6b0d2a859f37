// Command uwsnapshot exports a point-in-time copy of one world's node
// and situation replicas into a local SQLite file (internal/snapshot).
// As with uwctl, a real transport is an external collaborator; --fake
// drives the export against an in-process fake server so the tool is
// exercisable standalone.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uwrobotics/underworlds/internal/buildinfo"
	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/rpc/fake"
	"github.com/uwrobotics/underworlds/internal/snapshot"
	"github.com/uwrobotics/underworlds/internal/uwcontext"
)

func main() {
	var (
		useFake    bool
		clientName string
		world      string
		out        string
	)

	root := &cobra.Command{
		Use:           "uwsnapshot",
		Short:         "Export a world's current replica to a SQLite snapshot file",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !useFake {
				return fmt.Errorf("no real transport is wired into this build; pass --fake to use the in-process demo server")
			}
			if world == "" {
				return fmt.Errorf("--world is required")
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			ctx := context.Background()
			stub := fake.NewServer()

			return uwcontext.Use(ctx, stub, clientName, config.Default(), func(c *uwcontext.Context) error {
				w, err := c.Worlds().Get(ctx, world)
				if err != nil {
					return err
				}

				writer, err := snapshot.Open(out, world)
				if err != nil {
					return err
				}
				defer writer.Close()

				n := w.Scene().Len()
				for i := 0; i < n; i++ {
					node, err := w.Scene().Nodes().GetByIndex(ctx, i)
					if err != nil {
						return err
					}
					if err := writer.WriteNode(node); err != nil {
						return err
					}
				}

				for _, sit := range w.Timeline().Situations() {
					if err := writer.WriteSituation(sit); err != nil {
						return err
					}
				}

				fmt.Printf("wrote %d nodes and %d situations from %q to %s\n", n, w.Timeline().Len(), world, out)
				return nil
			})
		},
	}

	root.Flags().BoolVar(&useFake, "fake", false, "drive an in-process fake server instead of a real transport")
	root.Flags().StringVar(&clientName, "client-name", "uwsnapshot", "client name to register with Hello")
	root.Flags().StringVar(&world, "world", "", "world to snapshot")
	root.Flags().StringVar(&out, "out", "", "path to the SQLite snapshot file to write")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
