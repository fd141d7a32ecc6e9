package model

const (
	// PermanentVotes TC投票人用于永久锁定路径的票数
	PermanentVotes = 1000
	// LockingVotes 锁定记录在裁决中的等效票数，仅管理员级别可用
	LockingVotes = 2000
)

// Level 投票人级别，数值越小权限越大
type Level int

const (
	LevelAdmin     Level = 0
	LevelTC        Level = 1
	LevelManager   Level = 2
	LevelVetter    Level = 5
	LevelAnonymous Level = 8
	LevelGuest     Level = 10
	LevelLocked    Level = 999
)

var levelNames = map[Level]string{
	LevelAdmin:     "admin",
	LevelTC:        "tc",
	LevelManager:   "manager",
	LevelVetter:    "vetter",
	LevelAnonymous: "anonymous",
	LevelGuest:     "guest",
	LevelLocked:    "locked",
}

var levelVotes = map[Level]int{
	LevelAdmin:     100,
	LevelTC:        50,
	LevelManager:   4,
	LevelVetter:    4,
	LevelAnonymous: 0,
	LevelGuest:     1,
	LevelLocked:    0,
}

// vetter在TC组织中的票数
const tcOrgVetterVotes = 6

var (
	tcVoteMenu    = []int{1, 4, tcOrgVetterVotes, 50, PermanentVotes}
	adminVoteMenu = []int{1, 4, tcOrgVetterVotes, 50, 100, PermanentVotes}
)

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "unknown"
}

// Valid 是否为已定义的级别
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel 解析级别名
func ParseLevel(name string) (Level, bool) {
	for l, n := range levelNames {
		if n == name {
			return l, true
		}
	}
	return LevelLocked, false
}

// Votes 该级别在组织org下的默认票数
func (l Level) Votes(org Organization) int {
	if l == LevelVetter && org.TC {
		return tcOrgVetterVotes
	}
	return levelVotes[l]
}

// VoteCountMenu 可选票数列表，nil表示只能使用默认票数
func (l Level) VoteCountMenu(_ Organization) []int {
	switch l {
	case LevelAdmin:
		return adminVoteMenu
	case LevelTC:
		return tcVoteMenu
	default:
		return nil
	}
}

// CanVoteWithCount 该级别能否以withVotes票数投票
// LockingVotes 不在菜单中，但管理员可以使用
func (l Level) CanVoteWithCount(org Organization, withVotes int) bool {
	if withVotes == LockingVotes && l == LevelAdmin {
		return true
	}
	menu := l.VoteCountMenu(org)
	if menu == nil {
		return withVotes == l.Votes(org)
	}
	for _, n := range menu {
		if n == withVotes {
			return true
		}
	}
	return false
}

func (l Level) IsAdmin() bool { return l <= LevelAdmin }
func (l Level) IsTC() bool { return l <= LevelTC }
func (l Level) IsManagerOrStronger() bool { return l <= LevelManager }
func (l Level) IsVetter() bool { return l <= LevelVetter }
func (l Level) IsGuest() bool { return l <= LevelGuest }
func (l Level) IsLocked() bool { return l == LevelLocked }

// Organization 投票人所属组织
type Organization struct {
	Name string `json:"name" yaml:"name"`
	// TC 技术委员会组织，其vetter票数更高
	TC bool `json:"tc" yaml:"tc"`
}

// Voter 投票人
type Voter struct {
	ID    int          `json:"id" yaml:"id"`
	Name  string       `json:"name" yaml:"name"`
	Email string       `json:"email" yaml:"email"`
	Org   Organization `json:"org" yaml:"org"`
	Level Level        `json:"level" yaml:"level"`
	// Locales 可投票的locale，为空表示不限
	Locales []string `json:"locales,omitempty" yaml:"locales,omitempty"`
}

// Votes 投票人的默认票数
func (v *Voter) Votes() int {
	return v.Level.Votes(v.Org)
}

// CanVoteWithCount 投票人能否使用指定票数
func (v *Voter) CanVoteWithCount(withVotes int) bool {
	return v.Level.CanVoteWithCount(v.Org, withVotes)
}

// CanPermanentVote 能否投永久票
func (v *Voter) CanPermanentVote() bool {
	return v.CanVoteWithCount(PermanentVotes)
}

// CoversLocale 投票人的locale列表是否包含locale
// 管理员与TC不受locale列表限制
func (v *Voter) CoversLocale(locale string) bool {
	if len(v.Locales) == 0 || v.Level.IsTC() {
		return true
	}
	for _, l := range v.Locales {
		if l == locale || l == "*" {
			return true
		}
	}
	return false
}

// EffectiveWeight 在override下的实际票数，override不合法时退回默认票数
func (v *Voter) EffectiveWeight(override *int) int {
	if override != nil && v.CanVoteWithCount(*override) {
		return *override
	}
	return v.Votes()
}
