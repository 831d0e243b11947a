package main

import (
	"strings"

	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a sqlite store to remote clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("DOCSYNC")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			for _, name := range []string{"addr", "db", "blob", "rate-limit", "cert", "key", "max-upload"} {
				v.BindPFlag(name, cmd.Flags().Lookup(name))
			}

			storeCfg := &config.StoreConfig{
				Kind:   config.StoreSQLite,
				DBPath: v.GetString("db"),
				Blob:   v.GetString("blob"),
				S3: &docstore.S3Config{
					Bucket:    v.GetString("s3_bucket"),
					Region:    v.GetString("s3_region"),
					AccessKey: v.GetString("s3_access_key"),
					SecretKey: v.GetString("s3_secret_key"),
					Endpoint:  v.GetString("s3_endpoint"),
					Prefix:    v.GetString("s3_prefix"),
				},
			}
			if err := storeCfg.Validate(); err != nil {
				return err
			}

			srvCfg := &server.Config{
				Addr:           v.GetString("addr"),
				CertFile:       v.GetString("cert"),
				KeyFile:        v.GetString("key"),
				RateLimit:      v.GetString("rate-limit"),
				MaxUploadBytes: v.GetInt64("max-upload"),
			}
			cmd.SilenceUsage = true

			replica, err := openReplica(cmd.Context(), storeCfg)
			if err != nil {
				return err
			}
			defer replica.Close()

			srv, err := server.New(srvCfg, replica)
			if err != nil {
				return err
			}
			return srv.Start(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", server.DefaultAddr, "listen address")
	flags.String("db", config.DefaultDBPath, "sqlite store database")
	flags.String("blob", config.BlobSQLite, "blob backend: sqlite or s3 (DOCSYNC_S3_* env)")
	flags.String("rate-limit", server.DefaultRateLimit, "per client rate, e.g. 100-S; empty disables")
	flags.String("cert", "", "tls certificate file")
	flags.String("key", "", "tls key file")
	flags.Int64("max-upload", 1<<30, "largest accepted document in bytes")
	return cmd
}
