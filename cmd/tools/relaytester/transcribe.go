package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	speechmodel "github.com/zhouzirui/site-forge/backend/internal/model/speech"
	"github.com/zhouzirui/site-forge/backend/internal/service/speech"
)

var transcribeOpts struct {
	provider string
	format   string
	language string
	timeout  time.Duration
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe a file with the configured provider, bypassing the relay",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	f := transcribeCmd.Flags()
	f.StringVar(&transcribeOpts.provider, "provider", "", "override SPEECH_PROVIDER (whisper or volcengine)")
	f.StringVar(&transcribeOpts.format, "format", "", "audio format, defaults to the file extension")
	f.StringVar(&transcribeOpts.language, "lang", "", "language code, defaults to SPEECH_LANGUAGE")
	f.DurationVar(&transcribeOpts.timeout, "timeout", 45*time.Second, "request timeout")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "配置加载失败")
	}

	speechCfg := cfg.Speech
	if transcribeOpts.provider != "" {
		speechCfg.Provider = transcribeOpts.provider
	}
	svc := speech.NewServiceFromConfig(speechCfg)
	if !svc.Enabled() {
		return speech.ErrNotConfigured
	}

	path := args[0]
	format := transcribeOpts.format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	language := transcribeOpts.language
	if language == "" {
		language = speechCfg.Language
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), transcribeOpts.timeout)
	defer cancel()

	req := speechmodel.TranscriptionRequest{
		SessionID:   "manual-" + uuid.NewString(),
		Path:        path,
		Format:      format,
		Language:    language,
		Temperature: speechCfg.Temperature,
		Prompt:      speechCfg.Prompt,
	}
	log.Info().Str("provider", svc.Provider()).Str("format", format).Str("language", language).Msg("开始转写")

	result, err := svc.Transcribe(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	log.Info().Str("request_id", result.RequestID).Dur("duration", result.Duration).Msg("转写成功")
	return nil
}
