// Package cli 是 workspacectl 的命令实现：以 tutor 或 student 身份加入一节课，
// 从标准输入逐行读取工作区操作。
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "workspacectl"

// Version 构建时用 -ldflags 覆盖。
var Version = "dev"

// NewRootCmd 创建根命令，全局参数 --config/--env 由子命令读取。
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Headless lesson workspace participant",
		Long:          "workspacectl joins a lesson as tutor or student and drives the synchronized workspace from stdin.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (yaml)")
	cmd.PersistentFlags().String("env", ".env", "dotenv file loaded before config")

	cmd.AddCommand(
		NewJoinCmd(),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
