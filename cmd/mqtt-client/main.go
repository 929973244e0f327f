package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/client"
)

var (
	brokerURL    string
	clientID     string
	username     string
	password     string
	qos          uint8
	cleanSession bool
	retries      int
)

var rootCmd = &cobra.Command{
	Use:          "mqtt-client",
	Short:        "Publish to and subscribe on an MQTT broker.",
	SilenceUsage: true,
}

var pubCmd = &cobra.Command{
	Use:   "pub <topic> <message>",
	Short: "Publish one message.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer c.Disconnect()
		if err := c.Publish(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", args[0])
		return nil
	},
}

var subCmd = &cobra.Command{
	Use:   "sub <filter>...",
	Short: "Subscribe and print messages until interrupted.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		err = c.ConnectAndSubscribe(func(e client.Event) error {
			dup := ""
			if e.Duplicate {
				dup = " (dup)"
			}
			_, err := fmt.Fprintf(out, "%s [qos %d]%s %s\n", e.Topic, e.QoS, dup, e.Payload)
			return err
		}, args)
		if err != nil {
			return err
		}
		defer c.Disconnect()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		<-signals
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&brokerURL, "url", "tcp://localhost:1883", "broker url")
	flags.StringVar(&clientID, "id", "", "client identifier (random when empty)")
	flags.StringVar(&username, "username", "", "username")
	flags.StringVar(&password, "password", "", "password")
	flags.Uint8Var(&qos, "qos", 1, "quality of service, 0 or 1")
	flags.BoolVar(&cleanSession, "clean", true, "start a clean session")
	flags.IntVar(&retries, "retries", 3, "connect retries")
	rootCmd.AddCommand(pubCmd, subCmd)
}

func newClient() (*client.Client, error) {
	id := clientID
	if id == "" {
		id = "mqtt-client-" + uuid.NewString()[:8]
	}
	return client.New(
		client.WithURL(brokerURL),
		client.WithClientID(id),
		client.WithCredentials(username, password),
		client.WithQoS(qos),
		client.WithCleanSession(cleanSession),
		client.WithConnectRetries(retries),
	)
}

func connect() (*client.Client, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
