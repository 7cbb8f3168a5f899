package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/artifact"
	"storyloom/internal/collab"
	"storyloom/internal/config"
	"storyloom/internal/daemon"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/services/imageforge"
	"storyloom/internal/services/renderfarm"
	"storyloom/internal/services/segmenter"
	"storyloom/internal/services/voicegen"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the storyloom daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			logger, err := logging.NewForDir(cfg.Paths.LogDir, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			store, err := run.Open(cfg)
			if err != nil {
				return fmt.Errorf("open run store: %w", err)
			}
			defer store.Close()

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			var signer artifact.Signer
			if cfg.Artifacts.Endpoint != "" {
				minioSigner, err := artifact.NewMinioSigner(cfg.Artifacts)
				if err != nil {
					return err
				}
				signer = minioSigner
			}

			eng, err := engine.New(store, registry, signer, engineSettings(cfg), logger)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, store, eng, logger)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := d.Start(sigCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storyloom daemon listening on %s\n", cfg.API.Bind)
			<-sigCtx.Done()
			d.Stop()
			return nil
		},
	}
}

// buildRegistry wires each working phase to its stage backend client.
func buildRegistry(cfg *config.Config) (*collab.Registry, error) {
	staleAfter := time.Duration(cfg.Engine.StaleJobTimeoutSeconds) * time.Second

	segClient, err := segmenter.NewClient(cfg.Segmenter.BaseURL, cfg.Segmenter.Token,
		segmenter.WithTimeout(time.Duration(cfg.Segmenter.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	imgClient, err := imageforge.NewClient(cfg.ImageForge.BaseURL, cfg.ImageForge.Token,
		imageforge.WithTimeout(time.Duration(cfg.ImageForge.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	voiceClient, err := voicegen.NewClient(cfg.VoiceGen.BaseURL, cfg.VoiceGen.Token,
		voicegen.WithTimeout(time.Duration(cfg.VoiceGen.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	renderClient, err := renderfarm.NewClient(cfg.RenderFarm.BaseURL, cfg.RenderFarm.Token,
		renderfarm.WithTimeout(time.Duration(cfg.RenderFarm.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}

	return collab.NewRegistry(map[run.Phase]collab.Adapter{
		run.PhaseScripting:    segmenter.NewAdapter(segClient, staleAfter),
		run.PhaseIllustrating: imageforge.NewAdapter(imgClient, staleAfter),
		run.PhaseNarrating:    voicegen.NewAdapter(voiceClient, staleAfter),
		run.PhaseRendering:    renderfarm.NewAdapter(renderClient, staleAfter),
	})
}

func engineSettings(cfg *config.Config) engine.Settings {
	return engine.Settings{
		Lease:                 time.Duration(cfg.Engine.LeaseSeconds) * time.Second,
		StageRetryCeiling:     cfg.Engine.StageRetryCeiling,
		UserRetryCeiling:      cfg.Engine.UserRetryCeiling,
		ArtifactRefreshWindow: time.Duration(cfg.Engine.ArtifactRefreshWindowSeconds) * time.Second,
	}
}
