// Command ghibli 是转换服务的命令行客户端。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ghibli",
	Short: "Convert images to Ghibli style through a ghibli-go server",
	Long: `ghibli uploads an image to a running ghibli-go API server, prints the
conversion result and optionally downloads the stylized image.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of ghibli",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ghibli %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "base URL of the ghibli-go API server")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	viper.SetEnvPrefix("GHIBLI")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
