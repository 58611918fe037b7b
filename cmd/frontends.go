package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/smazurov/camback/internal/config"
	"github.com/smazurov/camback/internal/session"
	"github.com/spf13/cobra"
)

// CreateFrontendsCmd creates the frontends command and its subcommands.
func CreateFrontendsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "frontends",
		Short: "Inspect and edit frontend bindings",
		Long: `Manages frontends.toml, which binds guest frontend devices (domain id, device index) ` +
			`to physical cameras. A running backend picks up changes without a restart.`,
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "frontends.toml", "Frontend bindings file")

	cmd.AddCommand(frontendsListCmd(&file), frontendsCheckCmd(&file), frontendsAddCmd(&file), frontendsRemoveCmd(&file))
	return cmd
}

func frontendsListCmd(file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List frontend bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fm := config.NewFrontendManager(*file)
			if err := fm.Load(); err != nil {
				return err
			}
			return printFrontends(cmd.OutOrStdout(), fm.GetFrontends())
		},
	}
}

func printFrontends(out io.Writer, frontends []config.FrontendConfig) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOM\tDEV\tUNIQUE ID\tPIPELINE\tCONTROLS")
	for _, f := range frontends {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", f.DomID, f.DevID, f.UniqueID, f.Pipeline, f.Controls)
	}
	return tw.Flush()
}

func frontendsCheckCmd(file *string) *cobra.Command {
	var pipelinesFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a frontends file",
		Long:  `Parses the frontends file and reports every binding the backend would refuse.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrontends(*file)
			if err != nil {
				return err
			}
			pipelines, err := config.LoadPipelines(pipelinesFile)
			if err != nil {
				return err
			}
			if err := checkFrontends(cfg, pipelines); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frontends OK\n", *file, len(cfg.Frontends))
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelinesFile, "pipelines", "camback.toml", "File holding [pipelines.<name>] sections")
	return cmd
}

// checkFrontends reports the bindings the backend would refuse to bind.
func checkFrontends(cfg config.FrontendsConfig, pipelines map[string]config.PipelineConfig) error {
	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	owner := make(map[string]string) // dom/unique id -> frontend key
	for _, f := range cfg.Frontends {
		if _, err := session.ParseControls(f.Controls); err != nil {
			errs = append(errs, fmt.Errorf("frontend %s: %w", f.Key(), err))
		}
		if f.Pipeline != "" {
			if _, ok := pipelines[f.Pipeline]; !ok {
				errs = append(errs, fmt.Errorf("frontend %s: pipeline %q not defined", f.Key(), f.Pipeline))
			}
		}
		slot := fmt.Sprintf("%d/%s", f.DomID, f.UniqueID)
		if prev, ok := owner[slot]; ok {
			errs = append(errs, fmt.Errorf("frontend %s: domain %d already uses %s through frontend %s", f.Key(), f.DomID, f.UniqueID, prev))
			continue
		}
		owner[slot] = f.Key()
	}
	return errors.Join(errs...)
}

func frontendsAddCmd(file *string) *cobra.Command {
	var f config.FrontendConfig

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a frontend binding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := session.ParseControls(f.Controls); err != nil {
				return err
			}
			fm := config.NewFrontendManager(*file)
			if err := fm.Load(); err != nil {
				return err
			}
			if err := fm.AddFrontend(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "frontend %s -> %s saved to %s\n", f.Key(), f.UniqueID, *file)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&f.DomID, "dom", 0, "Guest domain id")
	cmd.Flags().Uint32Var(&f.DevID, "dev", 0, "Frontend device index within the domain")
	cmd.Flags().StringVar(&f.UniqueID, "unique-id", "", "Camera node name (e.g. video0) or pattern id")
	cmd.Flags().StringVar(&f.Pipeline, "pipeline", "", "Media pipeline to configure before first use")
	cmd.Flags().StringVar(&f.Controls, "controls", "", "Comma separated controls the guest may use")
	_ = cmd.MarkFlagRequired("dom")
	_ = cmd.MarkFlagRequired("unique-id")
	return cmd
}

func frontendsRemoveCmd(file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dom> <dev>",
		Short: "Remove a frontend binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			domID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid domain id %q: %w", args[0], err)
			}
			devID, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid device index %q: %w", args[1], err)
			}
			fm := config.NewFrontendManager(*file)
			if err := fm.Load(); err != nil {
				return err
			}
			return fm.RemoveFrontend(uint32(domID), uint32(devID))
		},
	}
}
