package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tandem/internal/modelproc"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the local inference server under supervision",
	Long: `Spawn the configured inference server binary and supervise it until
interrupted. Ctrl-c kills the server's worker child and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sup := modelproc.New(cfg.ModelProc.Binary, cfg.ModelProc.Args)
		if err := sup.Start(); err != nil {
			return err
		}
		st := sup.Status()
		fmt.Printf("inference server running (pid %d)\n", st.PID)

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		for {
			<-sigc
			if err := sup.Kill(); err != nil {
				return err
			}
			fmt.Println("inference server stopped")
			return nil
		}
	},
}
