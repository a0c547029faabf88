package common

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig reads config.yaml from path into config. Every key can be
// overridden from the environment, e.g. SCHEDULER_REDIS_ADDRS.
func LoadConfig(config interface{}, path string, userSpecifiedConfigs []string) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		log.WithError(err).Fatal("Could not read config")
	}

	for _, overrideConfig := range userSpecifiedConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			log.WithError(err).Fatalf("Could not merge config file %s", overrideConfig)
		}
	}

	v.SetEnvPrefix("SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		log.WithError(err).Fatal("Could not unmarshal config")
	}
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ServeMetrics exposes the prometheus registry on the given port.
func ServeMetrics(port uint16) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return server
}
