package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newOTPCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Manage the one-time password secret",
	}
	cmd.AddCommand(
		newOTPCurrentCommand(r),
		newOTPListCommand(r),
		newOTPURLCommand(r),
		newOTPQRCommand(r),
		newOTPRotateCommand(r),
		newOTPValidateCommand(r),
	)
	return cmd
}

func newOTPCurrentCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the password of the current period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := r.app.Passwords.CurrentPassword(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (valid until %s)\n", pw.Value, pw.Period.End.Format(time.TimeOnly))
			return nil
		},
	}
}

func newOTPListCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every password that is currently accepted, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passwords, err := r.app.Passwords.ValidPasswords(cmd.Context())
			if err != nil {
				return err
			}
			for _, pw := range passwords {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s - %s\n", pw.Value,
					pw.Period.Start.Format(time.TimeOnly), pw.Period.End.Format(time.TimeOnly))
			}
			return nil
		},
	}
}

func newOTPURLCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the otpauth:// provisioning URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := r.app.Passwords.ProvisioningURL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newOTPQRCommand(r *runner) *cobra.Command {
	var (
		out  string
		size int
	)
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Write the provisioning URL as a QR code PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := r.app.Passwords.ProvisioningURL(cmd.Context())
			if err != nil {
				return err
			}
			if err := qrcode.WriteFile(u, qrcode.Medium, size, out); err != nil {
				return fmt.Errorf("write qr code: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "QR code written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "otp.png", "output PNG path")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}

func newOTPRotateCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Replace the secret; passwords from the old secret stop working",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := r.app.Passwords.Rotate(cmd.Context()); err != nil {
				return err
			}
			label, err := r.app.Passwords.Label(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret rotated, new label %s. Re-enroll your authenticator.\n", label)
			return nil
		},
	}
}

func newOTPValidateCommand(r *runner) *cobra.Command {
	var notification string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the password carried by a push notification payload",
		Long: `Reads a JSON notification ("-" for stdin) and checks its "otp" field.
An accepted password is recorded and will be rejected if seen again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(cmd.InOrStdin(), notification)
			if err != nil {
				return err
			}
			defer in.Close()
			payload, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read notification: %w", err)
			}

			if err := r.app.Notifications.ValidateJSON(cmd.Context(), payload); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "accepted")
			return nil
		},
	}
	cmd.Flags().StringVarP(&notification, "notification", "n", "-", "notification JSON file")
	return cmd
}
