package util

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
)

// ErrNoJSON: в ответе модели не нашлось разбираемого JSON-объекта.
var ErrNoJSON = errors.New("no parsable json in reply")

// DecodeLoose разбирает ответ модели в v по порядку:
// строгий JSON, затем без ```-ограждений, затем первый '{' … последний '}'.
// Паник нет: при неудаче v не трогается и возвращается ErrNoJSON.
func DecodeLoose(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSON
	}
	for _, cand := range []string{text, StripCodeFences(text), braceSpan(text)} {
		if cand == "" || !strings.HasPrefix(cand, "{") {
			continue
		}
		if tryDecode(cand, v) {
			return nil
		}
	}
	return ErrNoJSON
}

func tryDecode(s string, v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false
	}
	// декодируем во временное значение: частично заполненный v при ошибке типов не нужен
	tmp := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(s), tmp.Interface()); err != nil {
		return false
	}
	rv.Elem().Set(tmp.Elem())
	return true
}

func braceSpan(s string) string {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}

// LoadPrompt читает <dir>/<name>.system.txt, если он есть; иначе возвращает встроенный def.
// Позволяет править промпты без пересборки.
func LoadPrompt(dir, name, def string) string {
	if strings.TrimSpace(dir) == "" {
		return def
	}
	b, err := os.ReadFile(filepath.Join(dir, name+".system.txt"))
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		return def
	}
	return strings.TrimSpace(string(b))
}
