package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/service"
)

var admissionCmd = &cobra.Command{
	Use:   "admission",
	Short: "Inspect or change the site admission state",
}

func admissionGate(cmd *cobra.Command, run func(gate *service.AdmissionGate) (model.AdmissionState, error)) error {
	store, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	statusCache, closeCache := statusCache()
	defer closeCache()
	svcs, err := newServices(store, statusCache)
	if err != nil {
		return err
	}

	state, err := run(svcs.gate)
	if err != nil {
		return err
	}
	printAdmission(cmd.OutOrStdout(), state)
	return nil
}

func printAdmission(w io.Writer, state model.AdmissionState) {
	status := "open"
	if !state.IsOpen() {
		status = "closed"
	}
	fmt.Fprintf(w, "admission:   %s\nregistered:  %d / %d internal users\nmanual lock: %t\n",
		status, state.RegisteredInternal, state.MaxUsers, state.ManualLock)
}

var admissionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether registration is open",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return admissionGate(cmd, func(gate *service.AdmissionGate) (model.AdmissionState, error) {
			return gate.State(cmd.Context())
		})
	},
}

var admissionLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Close registration regardless of the user count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return admissionGate(cmd, func(gate *service.AdmissionGate) (model.AdmissionState, error) {
			return gate.SetManualLock(cmd.Context(), true)
		})
	},
}

var admissionUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Lift the manual lock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return admissionGate(cmd, func(gate *service.AdmissionGate) (model.AdmissionState, error) {
			return gate.SetManualLock(cmd.Context(), false)
		})
	},
}

var admissionSetMaxCmd = &cobra.Command{
	Use:   "set-max [n]",
	Short: "Set the maximum number of internal users (default: admission.max_users)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := cfg.Admission.MaxUsers
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("max users: %w", err)
			}
			n = v
		}
		return admissionGate(cmd, func(gate *service.AdmissionGate) (model.AdmissionState, error) {
			return gate.SetMaxUsers(cmd.Context(), n)
		})
	},
}

func init() {
	admissionCmd.AddCommand(admissionStatusCmd, admissionLockCmd, admissionUnlockCmd, admissionSetMaxCmd)
}
