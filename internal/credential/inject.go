package credential

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
	"github.com/turtacn/Snowy/pkg/logger"
)

const gatewaySection = "[gateway]"

// pairedTokensRe matches the allow-list assignment, including arrays that span lines.
var pairedTokensRe = regexp.MustCompile(`(?s)(paired_tokens\s*=\s*\[)(.*?)(\])`)

type agentConfig struct {
	Gateway struct {
		PairedTokens []string `toml:"paired_tokens"`
	} `toml:"gateway"`
}

// InjectToken makes sure the agent config at path lists token in
// gateway.paired_tokens. The file is patched as text so the rest of the
// agent's config keeps its formatting. It reports whether the file changed.
// A missing config file is returned as an error wrapping os.ErrNotExist.
func InjectToken(path, token string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, snowyerr.New(snowyerr.ErrCodeCredentialFailed, "InjectToken", "reading agent config", err)
	}

	content := string(data)
	if strings.Contains(content, token) {
		return false, nil
	}

	patched := PatchConfig(content, token)

	tokens, err := parsePairedTokens([]byte(patched))
	if err != nil {
		return false, snowyerr.New(snowyerr.ErrCodeCredentialFailed, "InjectToken", "patched config is not valid TOML", err)
	}
	if !contains(tokens, token) {
		return false, snowyerr.New(snowyerr.ErrCodeCredentialFailed, "InjectToken", "token missing from patched gateway.paired_tokens", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, snowyerr.New(snowyerr.ErrCodeCredentialFailed, "InjectToken", "stat agent config", err)
	}
	if err := writeFileAtomic(path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, snowyerr.New(snowyerr.ErrCodeCredentialFailed, "InjectToken", "writing agent config", err)
	}
	logger.Component("credential").Info("Injected app token into agent config", "path", path)
	return true, nil
}

// PatchConfig returns content with token added to the paired_tokens list.
// It appends to an existing list, inserts the list under [gateway], or
// appends a new [gateway] section, in that order of preference.
func PatchConfig(content, token string) string {
	quoted := fmt.Sprintf("%q", token)

	if pairedTokensRe.MatchString(content) {
		return pairedTokensRe.ReplaceAllStringFunc(content, func(match string) string {
			parts := pairedTokensRe.FindStringSubmatch(match)
			existing := strings.TrimRight(strings.TrimSpace(parts[2]), ", \t\r\n")
			if existing == "" {
				return parts[1] + quoted + parts[3]
			}
			return parts[1] + existing + ", " + quoted + parts[3]
		})
	}

	if strings.Contains(content, gatewaySection) {
		return strings.Replace(content, gatewaySection, gatewaySection+"\npaired_tokens = ["+quoted+"]", 1)
	}

	return content + "\n" + gatewaySection + "\npaired_tokens = [" + quoted + "]\n"
}

// PairedTokens reads gateway.paired_tokens from the agent config at path.
func PairedTokens(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePairedTokens(data)
}

func parsePairedTokens(data []byte) ([]string, error) {
	var cfg agentConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg.Gateway.PairedTokens, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Personal.AI order the ending
