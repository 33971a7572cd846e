package main

import (
	"fmt"
	"time"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"nyl/internal/config"
	"nyl/internal/domain"
	"nyl/internal/integrations/statusbus"
	"nyl/internal/repository"
)

var weatherFlags struct {
	location  string
	tempC     float64
	condition string
	humidity  float64
}

// weatherCmd lets an external poller (cron, a shell script) push weather to
// running servers through the status channel.
var weatherCmd = &cobra.Command{
	Use:   "publish-weather",
	Short: "Publish a weather reading to the status channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Redis.URL == "" {
			return fmt.Errorf("redis.url is not configured")
		}
		rdb, err := newRedis(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		pub, err := statusbus.NewPublisher(rdb, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		n, err := pub.PublishWeather(cmd.Context(), domain.Weather{
			Location:     weatherFlags.location,
			TemperatureC: weatherFlags.tempC,
			Condition:    weatherFlags.condition,
			Humidity:     weatherFlags.humidity,
			UpdatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		logger.Info("weather published", "channel", cfg.Redis.Channel, "receivers", n)
		return nil
	},
}

// seedSettingsCmd writes the configured provider defaults as the device's
// settings item.
var seedSettingsCmd = &cobra.Command{
	Use:   "seed-settings",
	Short: "Write the configured AI defaults to the DynamoDB settings table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Settings.Backend != config.BackendDynamoDB {
			return fmt.Errorf("settings.backend is %q, not %q", cfg.Settings.Backend, config.BackendDynamoDB)
		}
		awsCfg, err := loadAWS(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Settings.DynamoTable, cfg.Settings.DeviceID, cfg.ProviderDefaults())
		if err != nil {
			return err
		}
		if err := store.Put(cmd.Context(), cfg.ProviderDefaults()); err != nil {
			return err
		}
		logger.Info("settings seeded", "table", cfg.Settings.DynamoTable, "device_id", cfg.Settings.DeviceID)
		return nil
	},
}

func init() {
	f := weatherCmd.Flags()
	f.StringVar(&weatherFlags.location, "location", "", "location name")
	f.Float64Var(&weatherFlags.tempC, "temp", 0, "temperature in Celsius")
	f.StringVar(&weatherFlags.condition, "condition", "", "condition, e.g. clear or rain")
	f.Float64Var(&weatherFlags.humidity, "humidity", 0, "relative humidity in percent")
	_ = weatherCmd.MarkFlagRequired("location")
	_ = weatherCmd.MarkFlagRequired("temp")
}
