package identity

import (
	"io"
	"os"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// votersFile 投票人种子文件格式
//
//	voters:
//	  - id: 1
//	    name: alice
//	    org: google
//	    org_tc: true
//	    level: vetter
//	    locales: [fr, de]
type votersFile struct {
	Voters []seedVoter `yaml:"voters"`
}

type seedVoter struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Email   string   `yaml:"email"`
	Org     string   `yaml:"org"`
	OrgTC   bool     `yaml:"org_tc"`
	Level   string   `yaml:"level"`
	Locales []string `yaml:"locales"`
}

// LoadYAML 读取投票人种子
func LoadYAML(r io.Reader) ([]*model.Voter, error) {
	var f votersFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "解析投票人文件失败")
	}

	seen := make(map[int]bool, len(f.Voters))
	out := make([]*model.Voter, 0, len(f.Voters))
	for _, s := range f.Voters {
		if s.ID <= 0 {
			return nil, errors.Errorf("投票人 %q 的id无效", s.Name)
		}
		if seen[s.ID] {
			return nil, errors.Errorf("投票人id %d 重复", s.ID)
		}
		seen[s.ID] = true
		level, ok := model.ParseLevel(s.Level)
		if !ok {
			return nil, errors.Errorf("投票人 %d 的级别 %q 无效", s.ID, s.Level)
		}
		out = append(out, &model.Voter{
			ID:      s.ID,
			Name:    s.Name,
			Email:   s.Email,
			Org:     model.Organization{Name: s.Org, TC: s.OrgTC},
			Level:   level,
			Locales: s.Locales,
		})
	}
	return out, nil
}

// LoadYAMLFile 读取投票人种子文件
func LoadYAMLFile(path string) ([]*model.Voter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "打开投票人文件 %s 失败", path)
	}
	defer f.Close()
	return LoadYAML(f)
}
