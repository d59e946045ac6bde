package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/saveflow/internal/flowcfg"
	"github.com/sells-group/saveflow/internal/model"
)

var flowcfgTenant string

var flowconfigCmd = &cobra.Command{
	Use:   "flowconfig",
	Short: "Inspect and update per-tenant flow configuration",
}

var flowconfigShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("flowconfig"); err != nil {
			return err
		}
		if flowcfgTenant == "" {
			return eris.New("--tenant is required")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		resolved, err := flowcfg.NewResolver(st).Resolve(cmd.Context(), flowcfgTenant)
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(resolved)
		if err != nil {
			return eris.Wrap(err, "flowconfig: marshal yaml")
		}
		fmt.Print(string(out))
		return nil
	},
}

var flowconfigSetCmd = &cobra.Command{
	Use:   "set <patch.yaml>",
	Short: "Apply a partial configuration patch from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("flowconfig"); err != nil {
			return err
		}
		if flowcfgTenant == "" {
			return eris.New("--tenant is required")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "flowconfig: read %s", args[0])
		}

		var patch model.ConfigPatch
		if err := yaml.Unmarshal(data, &patch); err != nil {
			return eris.Wrapf(err, "flowconfig: parse %s", args[0])
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		updated, err := flowcfg.NewResolver(st).Update(cmd.Context(), flowcfgTenant, patch)
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(updated)
		if err != nil {
			return eris.Wrap(err, "flowconfig: marshal yaml")
		}
		fmt.Print(string(out))
		return nil
	},
}

func newBoolPatch(enabled bool) model.ConfigPatch {
	return model.ConfigPatch{Enabled: &enabled}
}

var flowconfigEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable the save flow for a tenant",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, true) },
}

var flowconfigDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable the save flow for a tenant",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, false) },
}

func setEnabled(cmd *cobra.Command, enabled bool) error {
	if err := cfg.Validate("flowconfig"); err != nil {
		return err
	}
	if flowcfgTenant == "" {
		return eris.New("--tenant is required")
	}

	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	_, err = flowcfg.NewResolver(st).Update(cmd.Context(), flowcfgTenant, newBoolPatch(enabled))
	if err != nil {
		return err
	}
	fmt.Printf("tenant %s: flow enabled=%v\n", flowcfgTenant, enabled)
	return nil
}

func init() {
	flowconfigCmd.PersistentFlags().StringVar(&flowcfgTenant, "tenant", "", "tenant identifier (required)")
	flowconfigCmd.AddCommand(flowconfigShowCmd, flowconfigSetCmd, flowconfigEnableCmd, flowconfigDisableCmd)
	rootCmd.AddCommand(flowconfigCmd)
}
