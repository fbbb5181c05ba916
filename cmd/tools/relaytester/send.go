package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/site-forge/backend/internal/model/speech"
)

var sendOpts struct {
	url     string
	origin  string
	timeout time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send <audio-file>...",
	Short: "Send audio files to the relay, one binary frame each",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendOpts.url, "url", "ws://localhost:8000/ws", "relay websocket URL")
	sendCmd.Flags().StringVar(&sendOpts.origin, "origin", "", "Origin header to present")
	sendCmd.Flags().DurationVar(&sendOpts.timeout, "timeout", 45*time.Second, "per-frame reply timeout")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{}
	if sendOpts.origin != "" {
		header["Origin"] = []string{sendOpts.origin}
	}

	conn, _, err := dialer.DialContext(cmd.Context(), sendOpts.url, header)
	if err != nil {
		return errors.Wrapf(err, "dial %s", sendOpts.url)
	}
	defer conn.Close()

	failed := 0
	for _, path := range args {
		reply, err := sendFrame(conn, path, sendOpts.timeout)
		if err != nil {
			return err
		}
		out, _ := json.Marshal(reply)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", path, out)
		if reply.Status != speech.StatusSuccess {
			failed++
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	if failed > 0 {
		return errors.Errorf("%d of %d frames failed", failed, len(args))
	}
	return nil
}

func sendFrame(conn *websocket.Conn, path string, timeout time.Duration) (speech.Reply, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return speech.Reply{}, errors.Wrap(err, "read audio file")
	}

	started := time.Now()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return speech.Reply{}, errors.Wrap(err, "write frame")
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return speech.Reply{}, err
	}

	var reply speech.Reply
	if err := conn.ReadJSON(&reply); err != nil {
		return speech.Reply{}, errors.Wrap(err, "read reply")
	}
	log.Info().Str("file", path).Int("bytes", len(data)).Dur("elapsed", time.Since(started)).
		Str("status", reply.Status).Msg("frame answered")
	return reply, nil
}
