package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

// acceptPhoto копит фото альбома (или подряд присланные) и после паузы
// склеивает их в одну страницу для распознавания.
func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	if r.OCR == nil {
		r.send(cid, "Photo input is not configured. Please type the problem.")
		return
	}
	ph := msg.Photo[len(msg.Photo)-1]
	imgBytes, err := r.downloadFile(context.Background(), ph.FileID)
	if err != nil {
		r.SendError(cid, "download", err)
		return
	}

	key := "chat:" + fmt.Sprint(cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	bi, _ := batches.LoadOrStore(key, &photoBatch{ChatID: cid, Key: key, images: make([][]byte, 0, 4)})
	b := bi.(*photoBatch)

	debounce := r.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	b.mu.Lock()
	b.images = append(b.images, imgBytes)
	first := len(b.images) == 1
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(debounce, func() { r.processBatch(key) })
	b.mu.Unlock()

	if first {
		r.send(cid, "Photo received. If the problem spans several photos, send them one after another.")
	}
}

func (r *Router) processBatch(key string) {
	bi, ok := batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	chatID := b.ChatID
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}
	img := images[0]
	if len(images) > 1 {
		merged, err := combineAsOne(images)
		if err != nil {
			r.SendError(chatID, "merge", err)
			return
		}
		img = merged
	}
	r.recognizePhoto(chatID, img)
}

func (r *Router) recognizePhoto(chatID int64, img []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := r.OCR.Recognize(ctx, img, util.SniffMimeHTTP(img))
	if err != nil {
		r.SendError(chatID, "ocr", err)
		return
	}
	in := capturedInput{Text: strings.TrimSpace(res.Text), Kind: types.InputImage, Confidence: res.Confidence}
	r.confirmOrSolve(chatID, in, ocr.NeedsReview(res, r.OCRThreshold))
}

func (r *Router) acceptVoice(chatID int64, fileID, filename string) {
	if r.ASR == nil {
		r.send(chatID, "Voice input is not configured. Please type the problem.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	audio, err := r.downloadFile(ctx, fileID)
	if err != nil {
		r.SendError(chatID, "download", err)
		return
	}
	res, err := r.ASR.Transcribe(ctx, audio, filename)
	if err != nil {
		r.SendError(chatID, "asr", err)
		return
	}
	in := capturedInput{Text: asr.NormalizeMathSpeech(res.Text), Kind: types.InputAudio, Confidence: res.Confidence}
	r.confirmOrSolve(chatID, in, asr.NeedsReview(res, r.ASRThreshold))
}

// confirmOrSolve: уверенный текст сразу уходит в прогон, сомнительный
// показываем на подтверждение, пустой просим ввести вручную.
func (r *Router) confirmOrSolve(chatID int64, in capturedInput, review bool) {
	switch {
	case in.Text == "":
		pendingInput.Store(chatID, &in)
		setMode(chatID, modeAwaitInputEdit)
		r.send(chatID, "I could not read the problem. Please type it.")
	case review:
		pendingInput.Store(chatID, &in)
		r.sendWithKeyboard(chatID, formatCapture(in.Text, in.Confidence), makeInputConfirmKeyboard())
	default:
		r.solve(chatID, pipelineRequest(in))
	}
}

func combineAsOne(images [][]byte) ([]byte, error) {
	decoded := make([]image.Image, 0, len(images))
	widths := make([]int, 0, len(images))
	heights := make([]int, 0, len(images))

	for _, b := range images {
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			if try, err2 := tryDecodeStrict(b); err2 == nil {
				img = try
			} else {
				return nil, err
			}
		}
		decoded = append(decoded, img)
		bounds := img.Bounds()
		widths = append(widths, bounds.Dx())
		heights = append(heights, bounds.Dy())
	}

	maxW := 0
	sumH := 0
	for i := range decoded {
		if widths[i] > maxW {
			maxW = widths[i]
		}
		sumH += heights[i]
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("empty images")
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	y := 0
	for i, img := range decoded {
		w := widths[i]
		h := heights[i]
		x := (maxW - w) / 2
		rect := image.Rect(x, y, x+w, y+h)
		draw.Draw(dst, rect, img, img.Bounds().Min, draw.Over)
		y += h
	}

	totalPx := maxW * sumH
	final := image.Image(dst)
	if totalPx > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(totalPx))
		newW := int(float64(maxW)*scale + 0.5)
		newH := int(float64(sumH)*scale + 0.5)
		if newW < 1 {
			newW = 1
		}
		if newH < 1 {
			newH = 1
		}
		final = scaleDownNN(dst, newW, newH)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, final, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func tryDecodeStrict(b []byte) (image.Image, error) {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return jpeg.Decode(bytes.NewReader(b))
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return png.Decode(bytes.NewReader(b))
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

func scaleDownNN(src image.Image, newW, newH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW := sb.Dx()
	srcH := sb.Dy()
	for y := 0; y < newH; y++ {
		sy := sb.Min.Y + (y*srcH)/newH
		for x := 0; x < newW; x++ {
			sx := sb.Min.X + (x*srcW)/newW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func (r *Router) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	if r.fetch != nil {
		return r.fetch(ctx, url)
	}
	return download(ctx, url)
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

var httpClient = &http.Client{Timeout: 60 * time.Second}
