package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"obuoy/core"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// buoyFile is the YAML layout accepted by "buoys import"
type buoyFile struct {
	Buoys []core.Buoy `yaml:"buoys"`
}

func newBuoysCmd(c *cli) *cobra.Command {
	buoysCmd := &cobra.Command{
		Use:   "buoys",
		Short: "Manage the buoy catalog",
		Long:  "List the stations shown on the map and import station metadata from YAML.",
	}

	buoysCmd.AddCommand(newBuoysListCmd(c))
	buoysCmd.AddCommand(newBuoysImportCmd(c))

	return buoysCmd
}

func newBuoysListCmd(c *cli) *cobra.Command {
	var (
		showInactive bool
		outputJSON   bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalog stations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			store, cleanup, err := c.openStore(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			buoys, err := store.ListBuoys(ctx, !showInactive)
			if err != nil {
				return fmt.Errorf("failed to list buoys: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(buoys)
			}

			renderBuoysTable(cmd.OutOrStdout(), buoys)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showInactive, "all", false, "Include inactive stations")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")

	return cmd
}

func newBuoysImportCmd(c *cli) *cobra.Command {
	var (
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import stations from a YAML file",
		Long: `Import stations from a YAML file of the form

  buoys:
    - id: 41001
      name: East Hatteras
      type: buoy
      lat: 34.724
      lng: -72.317
      active: true

Existing stations with the same id are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			buoys, err := readBuoyFile(file)
			if err != nil {
				return err
			}

			var invalid []string
			for i := range buoys {
				buoys[i].Normalize()
				if err := buoys[i].Validate(); err != nil {
					invalid = append(invalid, err.Error())
				}
			}
			if len(invalid) > 0 {
				for _, msg := range invalid {
					errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", msg)
				}
				return fmt.Errorf("%d of %d stations are invalid", len(invalid), len(buoys))
			}

			if dryRun {
				successColor.Fprintf(out, "✓ %d stations are valid\n", len(buoys))
				return nil
			}
			if len(buoys) == 0 {
				warningColor.Fprintln(out, "No stations in file")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			store, cleanup, err := c.openStore(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			var s *spinner.Spinner
			if !c.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Importing stations..."
				s.Start()
			}

			inserted, updated, err := store.UpsertBuoys(ctx, buoys)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return fmt.Errorf("failed to import stations: %w", err)
			}

			successColor.Fprintf(out, "✓ Imported %d stations\n", len(buoys))
			c.infof(out, "  %d new, %d updated\n", inserted, updated)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level buoys list")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readBuoyFile reads and parses an import file, refusing oversized input
func readBuoyFile(name string) ([]core.Buoy, error) {
	name = filepath.Clean(name)

	info, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	}
	if info.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes",
			maxImportFileSize, info.Size())
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var parsed buoyFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return parsed.Buoys, nil
}

// renderBuoysTable prints stations as a table
func renderBuoysTable(w io.Writer, buoys []core.Buoy) {
	if len(buoys) == 0 {
		warningColor.Fprintln(w, "No stations in catalog")
		return
	}

	headerColor.Fprintln(w, "STATIONS")
	headerColor.Fprintln(w, strings.Repeat("=", 86))
	fmt.Fprintf(w, "%-8s %-32s %-10s %10s %11s  %-6s\n", "ID", "Name", "Type", "Lat", "Lng", "Active")
	fmt.Fprintln(w, strings.Repeat("-", 86))

	for _, b := range buoys {
		name := b.Name
		if len(name) > 31 {
			name = name[:28] + "..."
		}
		active := "No"
		if b.Active {
			active = "Yes"
		}
		fmt.Fprintf(w, "%-8s %-32s %-10s %10.3f %11.3f  %-6s\n", b.ID, name, b.Type, b.Latitude, b.Longitude, active)
	}

	fmt.Fprintln(w, strings.Repeat("=", 86))
	fmt.Fprintf(w, "%d stations\n", len(buoys))
}
