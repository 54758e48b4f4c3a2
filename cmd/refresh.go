package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/keybound/keyshare/pkg/client"
	"github.com/keybound/keyshare/pkg/keys"
)

// ConfigFilePath is where the refresher will try to load the configuration from
var ConfigFilePath string

// OneShot flag causes the refresher to fetch keys once, print them and exit
var OneShot bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "fetch encryption keys from the key-sharing service",
	Long: `The refresher will periodically fetch the latest encryption keys
	from the configured key-sharing service and keep them published for
	token decryption`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.PersistentFlags().StringVarP(
		&ConfigFilePath,
		"config-file",
		"c",
		"./keyshare.yaml",
		"Config file location, default is `keyshare.yaml` in the current working directory",
	)
	refreshCmd.PersistentFlags().BoolVarP(
		&OneShot,
		"one-shot",
		"",
		false,
		"Fetch keys once, print a summary and exit",
	)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := client.LoadConfig(ConfigFilePath)
	if err != nil {
		return err
	}

	c, err := client.New(config.Server, config.AuthKey, config.SecretKey, nil)
	if err != nil {
		return err
	}

	if OneShot {
		collection, err := c.RefreshKeys(ctx)
		if err != nil {
			return err
		}
		printCollection(collection.Keys())
		return nil
	}

	klog.FromContext(ctx).Info("starting key refresher", "server", config.Server, "period", config.Period)

	r := client.NewRefresher(c, config.Period)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func printCollection(list []keys.Key) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSITE\tACTIVATES\tEXPIRES")
	for _, key := range list {
		site := "-"
		if key.SiteID > 0 {
			site = fmt.Sprintf("%d", key.SiteID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			key.ID,
			site,
			key.Activates.Format(time.RFC3339),
			key.Expires.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}
