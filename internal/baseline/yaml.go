package baseline

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// seedFile 基线种子文件格式
//
//	locales:
//	  fr:
//	    - path: //ldml/a
//	      value: Bonjour
//	      full_path: //ldml/a[@draft="contributed"]
type seedFile struct {
	Locales map[string][]seedEntry `yaml:"locales"`
}

type seedEntry struct {
	Path     string  `yaml:"path"`
	Value    *string `yaml:"value"`
	FullPath string  `yaml:"full_path"`
}

// LoadYAML 从种子文件读取各locale的快照
func LoadYAML(r io.Reader) ([]*Snapshot, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "解析基线文件失败")
	}

	out := make([]*Snapshot, 0, len(f.Locales))
	for locale, list := range f.Locales {
		entries := make(map[string]Entry, len(list))
		for i, e := range list {
			if e.Path == "" {
				return nil, errors.Errorf("locale %s 第%d条缺少path", locale, i+1)
			}
			if e.FullPath == "" {
				e.FullPath = e.Path
			}
			entries[e.Path] = Entry{Value: e.Value, FullPath: e.FullPath}
		}
		out = append(out, NewSnapshot(locale, entries))
	}
	return out, nil
}

// LoadYAMLFile 读取种子文件
func LoadYAMLFile(path string) ([]*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "打开基线文件 %s 失败", path)
	}
	defer f.Close()
	return LoadYAML(f)
}
