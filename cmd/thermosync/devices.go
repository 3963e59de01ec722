package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joshp123/thermosync/internal/app"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect paired thermostats in the credential store",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paired thermostats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		creds, err := app.NewCredentialStore(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		paired, err := creds.Load(cmd.Context())
		if err != nil {
			return err
		}
		if len(paired) == 0 {
			fmt.Println("no paired thermostats")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tTOKEN")
		for _, c := range paired {
			fmt.Fprintf(w, "%s\t%s\n", c.DeviceID, maskToken(c.AccessToken))
		}
		return w.Flush()
	},
}

var devicesForgetCmd = &cobra.Command{
	Use:   "forget <device-id>",
	Short: "Remove a thermostat from the credential store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		creds, err := app.NewCredentialStore(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		if err := creds.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Forgot thermostat %s\n", args[0])
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesListCmd, devicesForgetCmd)
	rootCmd.AddCommand(devicesCmd)
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
