// Command uwctl is a small diagnostic CLI over the replication engine:
// list known worlds, dump a scene, or tail a timeline. A real transport
// is an external collaborator (§1 Non-goals); --fake drives the whole
// command tree against an in-process rpc/fake.Server so the CLI is
// exercisable without one.
//
// Grounded on the teacher's cmd/ployz/main.go root command shape
// (SilenceErrors/SilenceUsage, a persistent --debug-style flag, Cmd()
// constructors per subcommand).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/uwrobotics/underworlds/internal/buildinfo"
	"github.com/uwrobotics/underworlds/internal/config"
	"github.com/uwrobotics/underworlds/internal/rpc"
	"github.com/uwrobotics/underworlds/internal/rpc/fake"
	"github.com/uwrobotics/underworlds/internal/uwcontext"
)

var (
	useFake    bool
	clientName string
)

func main() {
	root := &cobra.Command{
		Use:           "uwctl",
		Short:         "Inspect an underworlds server's worlds, scenes, and timelines",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVar(&useFake, "fake", false, "drive an in-process fake server instead of a real transport")
	root.PersistentFlags().StringVar(&clientName, "client-name", "uwctl", "client name to register with Hello")

	root.AddCommand(worldsCmd())
	root.AddCommand(sceneCmd())
	root.AddCommand(timelineCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openStub resolves the rpc.Stub to drive, per --fake. A real transport
// is not wired in by this module; passing no --fake is a usage error.
func openStub(cmd *cobra.Command) (rpc.Stub, error) {
	if !useFake {
		return nil, fmt.Errorf("no real transport is wired into this build; pass --fake to use the in-process demo server")
	}
	return fake.NewServer(), nil
}

func worldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worlds",
		Short: "List the worlds the server currently reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			stub, err := openStub(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			return uwcontext.Use(ctx, stub, clientName, config.Default(), func(c *uwcontext.Context) error {
				names, err := c.Worlds().Names(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			})
		},
	}
}

func sceneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scene <world>",
		Short: "Dump a world's root node and entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stub, err := openStub(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			return uwcontext.Use(ctx, stub, clientName, config.Default(), func(c *uwcontext.Context) error {
				w, err := c.Worlds().Get(ctx, args[0])
				if err != nil {
					return err
				}
				root, err := w.Scene().RootNode(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("root: %s (%s)\n", root.ID, root.Name)

				entities, err := w.Scene().Entities(ctx)
				if err != nil {
					return err
				}
				for _, e := range entities {
					fmt.Printf("entity: %s (%s)\n", e.ID, e.Name)
				}
				return nil
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	var tail bool
	cmd := &cobra.Command{
		Use:   "timeline <world>",
		Short: "Print a world's situations, optionally tailing new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stub, err := openStub(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			return uwcontext.Use(ctx, stub, clientName, config.Default(), func(c *uwcontext.Context) error {
				w, err := c.Worlds().Get(ctx, args[0])
				if err != nil {
					return err
				}
				print := func() {
					for _, sit := range w.Timeline().Situations() {
						fmt.Printf("%s: %s (owner=%s)\n", sit.ID, sit.Description, sit.Owner)
					}
				}
				print()
				if !tail {
					return nil
				}
				for {
					if !w.Timeline().WaitForChanges(5 * time.Second) {
						continue
					}
					print()
				}
			})
		},
	}
	cmd.Flags().BoolVar(&tail, "tail", false, "keep watching for new situations")
	return cmd
}
