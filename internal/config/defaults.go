package config

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultDataDir  = "~/.local/share/storyloom"
	defaultLogDir   = "~/.local/share/storyloom/logs"
	defaultAPIBind  = "127.0.0.1:7319"
	defaultLogLevel = "info"

	defaultLeaseSeconds                 = 300
	defaultStageRetryCeiling            = 3
	defaultUserRetryCeiling             = 5
	defaultSweepIntervalSeconds         = 5
	defaultStaleJobTimeoutSeconds       = 1200
	defaultArtifactRefreshWindowSeconds = 600
	defaultPresignTTLSeconds            = 3600
	defaultServiceTimeoutSeconds        = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Database: Database{
			Driver: DriverSQLite,
		},
		Engine: Engine{
			LeaseSeconds:                 defaultLeaseSeconds,
			StageRetryCeiling:            defaultStageRetryCeiling,
			UserRetryCeiling:             defaultUserRetryCeiling,
			SweepIntervalSeconds:         defaultSweepIntervalSeconds,
			StaleJobTimeoutSeconds:       defaultStaleJobTimeoutSeconds,
			ArtifactRefreshWindowSeconds: defaultArtifactRefreshWindowSeconds,
		},
		Artifacts: Artifacts{
			Bucket:            "storyloom-renders",
			PresignTTLSeconds: defaultPresignTTLSeconds,
		},
		Segmenter:  Service{TimeoutSeconds: defaultServiceTimeoutSeconds},
		ImageForge: Service{TimeoutSeconds: defaultServiceTimeoutSeconds},
		VoiceGen:   Service{TimeoutSeconds: defaultServiceTimeoutSeconds},
		RenderFarm: Service{TimeoutSeconds: defaultServiceTimeoutSeconds},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}
