package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loopkit/nightscoutservice/internal/models"
	"github.com/loopkit/nightscoutservice/internal/services"
	"github.com/spf13/cobra"
)

func newVerifyCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the Nightscout credentials and complete onboarding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := r.app.Coordinator.VerifyConfiguration(ctx); err != nil {
				return fmt.Errorf("verify credentials: %w", err)
			}
			if err := r.app.Coordinator.CompleteOnboarding(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credentials verified for %s\n", r.app.Config.SiteURL)
			return nil
		},
	}
}

type profileOutput struct {
	StartDate time.Time              `json:"start_date"`
	Settings  models.TherapySettings `json:"settings"`
}

func newProfileCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Fetch therapy settings from the site's current profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, start, err := r.app.Coordinator.FetchStoredTherapySettings(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profileOutput{StartDate: start, Settings: settings})
		},
	}
}

func newStatusCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local service state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			label, err := r.app.Passwords.Label(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "uploads enabled: %t\n", r.app.Coordinator.Enabled())
			fmt.Fprintf(w, "onboarded:       %t\n", r.app.Coordinator.IsOnboarded())
			fmt.Fprintf(w, "otp label:       %s\n", label)
			return nil
		},
	}
}

func newUploadCommand(r *runner) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a change set to Nightscout",
		Long: `Reads a JSON change set ("-" for stdin) and uploads every category
concurrently. Categories fail independently; the command fails if any did.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			defer in.Close()

			var cs models.ChangeSet
			if err := json.NewDecoder(in).Decode(&cs); err != nil {
				return fmt.Errorf("decode change set: %w", err)
			}

			outcome := <-r.app.Coordinator.UploadAsync(cmd.Context(), cs)
			w := cmd.OutOrStdout()
			for _, res := range outcome.Results {
				fmt.Fprintf(w, "%-17s %s\n", res.Category+":", describe(res))
			}

			var syncErr *services.SyncError
			for _, err := range unjoin(outcome.Err) {
				if errors.As(err, &syncErr) {
					fmt.Fprintf(w, "%-17s failed at %s: %v\n", syncErr.Category+":", syncErr.Step, syncErr.Err)
				}
			}
			return outcome.Err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "change set JSON file")
	return cmd
}

func describe(res services.Result) string {
	switch {
	case res.Disabled:
		return "skipped, no credentials"
	case res.DidUpload:
		return "uploaded"
	default:
		return "nothing to upload"
	}
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
