package cmd

import (
	"context"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server"
	"github.com/Likyliang/APIHub-Gateway/internal/task"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/shutdown"
	"github.com/spf13/cobra"
)

var cfgFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start " + conf.APP_NAME,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		conf.PrintBanner()
		if err := conf.Load(cfgFile); err != nil {
			return err
		}
		log.SetLevel(conf.AppConfig.Log.Level)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		shutdown.Init(log.Logger)
		defer shutdown.Listen()
		if err := db.InitDB(conf.AppConfig.Database.Type, conf.AppConfig.Database.DSN, conf.IsDebug()); err != nil {
			log.Errorf("database init error: %v", err)
			return
		}
		shutdown.Register(db.Close)

		if err := op.InitCache(); err != nil {
			log.Errorf("cache init error: %v", err)
			return
		}
		shutdown.Register(op.SaveCache)

		admin := conf.AppConfig.Admin
		if err := op.UserInitAdmin(admin.Username, admin.Password, admin.Email, context.Background()); err != nil {
			log.Errorf("admin user init error: %v", err)
			return
		}

		if err := server.Start(); err != nil {
			log.Errorf("server start error: %v", err)
			return
		}
		shutdown.Register(server.Close)

		task.Init()
		go task.RUN()
	},
}

func init() {
	startCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./data/config.json)")
	rootCmd.AddCommand(startCmd)
}
