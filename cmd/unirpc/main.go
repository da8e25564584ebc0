// Command unirpc talks to a UniRPC server from the shell: check a login,
// send a raw request, benchmark a pooled client or inspect a dynamic
// array.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pior/unirpc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const wrap = 50

var rootCmd = &cobra.Command{
	Use:   "unirpc",
	Short: "UniRPC client tool",
	Long: `unirpc opens sessions against UniVerse and UniData servers.

Every flag can also be set through the environment with the UNIRPC_
prefix (UNIRPC_HOST, UNIRPC_PASSWORD, ...) or in a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		level, err := logrus.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("host", "localhost", "server host name")
	flags.Int("port", 31438, "server port")
	flags.String("service", unirpc.ServiceUniVerse, wrapString("service name: uvcs for UniVerse, udcs for UniData"))
	flags.String("account", "", "account name or path")
	flags.String("user", "", "user name")
	flags.String("password", "", wrapString("password, better set through UNIRPC_PASSWORD"))
	flags.Duration("timeout", 30*time.Second, "connect and read/write timeout")
	flags.String("encoding", "UTF-8", wrapString("text encoding of non-NLS servers (IANA name)"))
	flags.Bool("ssl", false, "use TLS")
	flags.String("ca-file", "", "PEM bundle used to verify the server")
	flags.String("cert-file", "", "client certificate")
	flags.String("key-file", "", "client certificate key")
	flags.Bool("check-hostname", false, wrapString("verify that the server certificate matches the host name"))
	flags.Bool("log-packets", false, wrapString("dump every packet (needs --log-level debug)"))
	flags.String("log-level", "warning", "log level")

	rootCmd.AddCommand(pingCmd, callCmd, benchCmd, decodeCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("unirpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// sessionConfig builds the client configuration from flags and environment.
func sessionConfig() unirpc.Config {
	config := unirpc.DefaultConfig()
	config.Host = viper.GetString("host")
	config.Port = viper.GetInt("port")
	config.Service = viper.GetString("service")
	config.Account = viper.GetString("account")
	config.User = viper.GetString("user")
	config.Password = viper.GetString("password")
	config.Timeout = viper.GetDuration("timeout")
	config.Encoding = viper.GetString("encoding")
	config.SSL = viper.GetBool("ssl")
	config.TLS = unirpc.TLSConfig{
		CAFile:        viper.GetString("ca-file"),
		CertFile:      viper.GetString("cert-file"),
		KeyFile:       viper.GetString("key-file"),
		CheckHostname: viper.GetBool("check-hostname"),
	}
	config.LogPackets = viper.GetBool("log-packets")
	config.Logger = logrus.StandardLogger()
	return config
}

// wrapString wraps help text at wrap characters.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
