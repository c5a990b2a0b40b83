package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"math-mentor/api/internal/app"
	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

var (
	solveImage string
	solveAudio string
	solveForce bool
	solveJSON  bool
	solveTrace bool
)

var solveCmd = &cobra.Command{
	Use:   "solve [problem text]",
	Short: "Solve one problem from text, a photo or an audio file",
	Example: `  mentor solve "Solve x^2 - 5x + 6 = 0"
  mentor solve --image task.jpg
  mentor solve --audio question.ogg --force`,
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVar(&solveImage, "image", "", "Photo or scan of the problem")
	solveCmd.Flags().StringVar(&solveAudio, "audio", "", "Spoken problem (ogg, mp3, wav, m4a)")
	solveCmd.Flags().BoolVar(&solveForce, "force", false, "Solve even when the extracted text is low confidence")
	solveCmd.Flags().BoolVar(&solveJSON, "json", false, "Print the full result as JSON")
	solveCmd.Flags().BoolVar(&solveTrace, "trace", false, "Print the stage trace")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.Request{RawInput: strings.TrimSpace(strings.Join(args, " ")), InputKind: types.InputText}
	var review bool
	switch {
	case solveImage != "":
		if a.OCR == nil {
			return errors.New("ocr is not configured")
		}
		img, err := os.ReadFile(solveImage)
		if err != nil {
			return err
		}
		res, err := a.OCR.Recognize(ctx, img, util.SniffMimeHTTP(img))
		if err != nil {
			return fmt.Errorf("ocr: %w", err)
		}
		req = pipeline.Request{RawInput: strings.TrimSpace(res.Text), InputKind: types.InputImage}
		review = ocr.NeedsReview(res, cfg.Thresholds.OCR)
		fmt.Fprintf(os.Stderr, "OCR (%s, confidence %.2f): %s\n", res.Engine, res.Confidence, req.RawInput)
	case solveAudio != "":
		if a.ASR == nil {
			return errors.New("asr is not configured")
		}
		audio, err := os.ReadFile(solveAudio)
		if err != nil {
			return err
		}
		res, err := a.ASR.Transcribe(ctx, audio, filepath.Base(solveAudio))
		if err != nil {
			return fmt.Errorf("asr: %w", err)
		}
		req = pipeline.Request{RawInput: asr.NormalizeMathSpeech(res.Text), InputKind: types.InputAudio}
		review = asr.NeedsReview(res, cfg.Thresholds.ASR)
		fmt.Fprintf(os.Stderr, "Transcript (confidence %.2f): %s\n", res.Confidence, req.RawInput)
	}
	if req.RawInput == "" {
		return errors.New("nothing to solve: pass the problem text, --image or --audio")
	}
	if review && !solveForce {
		return errors.New("extracted text is low confidence: check it and rerun with the corrected text, or pass --force")
	}

	if !solveJSON {
		req.Progress = func(s types.Stage) { fmt.Fprintf(os.Stderr, "… %s\n", s.Label()) }
	}
	res, err := a.Controller.Run(ctx, req)
	if err != nil {
		return err
	}
	if solveJSON {
		return printJSON(res)
	}
	printResult(res)
	return nil
}

func printResult(res *pipeline.Result) {
	if res.Stage == types.StageHaltClarify {
		fmt.Printf("Needs clarification: %s\n", res.HITLReason)
		fmt.Printf("Parsed as: %s\n", res.Parsed.Text)
	} else {
		fmt.Printf("Topic:      %s\n", res.Parsed.Topic)
		fmt.Printf("Answer:     %s\n", res.FinalAnswer)
		fmt.Printf("Confidence: %.2f (verified: %t)\n", res.Confidence, res.Verification.IsCorrect)
		if res.NeedsHITL {
			fmt.Printf("Review:     %s\n", res.HITLReason)
		}
		if res.RecordID != "" {
			fmt.Printf("Case:       %s\n", res.RecordID)
		}
		fmt.Printf("\n%s\n", res.Explanation)
	}
	if solveTrace {
		fmt.Println("\nTrace:")
		for _, e := range res.Trace {
			fmt.Printf("  %-14s %-9s %s\n", e.Stage, e.Status, e.Summary)
		}
	}
}
