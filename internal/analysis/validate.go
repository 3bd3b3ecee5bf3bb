package analysis

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"
)

// archiveKinds maps an allowed extension to the filetype extension its content must sniff as.
// Extensions configured without an entry are accepted on name alone.
var archiveKinds = map[string]string{
	".zip":    "zip",
	".tar.gz": "gz",
	".tgz":    "gz",
	".rar":    "rar",
}

// Validate checks p against the size and type limits of cfg. No request is sent for a payload
// that fails validation.
func Validate(p Payload, cfg Config) error {
	if !p.IsArchive() {
		if strings.TrimSpace(p.Code) == "" {
			return ErrEmptyCode
		}
		if len(p.Code) > cfg.MaxCodeBytes {
			return ErrCodeTooLarge.Msg(fmt.Sprintf("Code is too large (max %dKB)", cfg.MaxCodeBytes/1000))
		}
		return nil
	}

	if int64(len(p.Archive)) > cfg.MaxArchiveBytes {
		return ErrArchiveTooLarge.Msg(fmt.Sprintf("File is too large (max %dMB)", cfg.MaxArchiveBytes/(1024*1024)))
	}

	name := strings.ToLower(p.ArchiveName)
	ext := ""
	for _, allowed := range cfg.ArchiveExtensions {
		if strings.HasSuffix(name, strings.ToLower(allowed)) && len(allowed) > len(ext) {
			ext = strings.ToLower(allowed)
		}
	}
	if ext == "" {
		return ErrArchiveType
	}
	if len(p.Archive) == 0 {
		return ErrArchiveContent.Msg("File is empty")
	}

	want, ok := archiveKinds[ext]
	if !ok {
		return nil
	}
	kind, err := filetype.Match(p.Archive)
	if err != nil || kind.Extension != want {
		return ErrArchiveContent
	}
	return nil
}
