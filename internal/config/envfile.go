package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"hsexport/internal/model"
	"hsexport/internal/util"
)

const (
	keyAccessToken  = "HUBSPOT_ACCESS_TOKEN"
	keyRefreshToken = "HUBSPOT_REFRESH_TOKEN"
	keyExpiresAt    = "HUBSPOT_TOKEN_EXPIRES_AT"
)

var tokenLines = []struct {
	key string
	re  *regexp.Regexp
}{
	{keyAccessToken, tokenLine(keyAccessToken)},
	{keyRefreshToken, tokenLine(keyRefreshToken)},
	{keyExpiresAt, tokenLine(keyExpiresAt)},
}

func tokenLine(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+)?` + regexp.QuoteMeta(key) + `[ \t]*=.*$`)
}

// LoadEnvFile loads key=value pairs into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// EnvFile persists OAuth tokens into a key=value file such as .env.
// Only the three token lines are rewritten; every other line is kept as is.
// When Path does not exist it is created from Template, or from scratch.
type EnvFile struct {
	Path     string
	Template string
}

// SaveTokens writes the token set into the file.
func (f EnvFile) SaveTokens(ts model.TokenSet) error {
	if f.Path == "" {
		return errors.New("env file path is empty")
	}
	content, err := f.base()
	if err != nil {
		return err
	}
	values := map[string]string{
		keyAccessToken:  ts.AccessToken,
		keyRefreshToken: ts.RefreshToken,
		keyExpiresAt:    strconv.FormatInt(ts.ExpiresAt, 10),
	}
	for _, tl := range tokenLines {
		line := tl.key + "=" + values[tl.key]
		if tl.re.MatchString(content) {
			content = tl.re.ReplaceAllLiteralString(content, line)
			continue
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += line + "\n"
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return util.WriteFileAtomic(f.Path, []byte(content), 0o600)
}

func (f EnvFile) base() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err == nil {
		return string(b), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if f.Template == "" {
		return "", nil
	}
	b, err = os.ReadFile(f.Template)
	if err == nil {
		return string(b), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return "", err
}
