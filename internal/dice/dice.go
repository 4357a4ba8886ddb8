// internal/dice/dice.go
package dice

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Corphon/BastionSheet/internal/errors"
)

const (
	MaxDiceCount = 100
	MaxDiceFaces = 1000
)

// Source 随机数来源，*rand.Rand 即满足该接口
type Source interface {
	Intn(n int) int
}

// Term 公式中的一项
type Term struct {
	Expr  string `json:"expr"`
	Sign  int    `json:"sign"`           // +1 或 -1
	Dice  []int  `json:"dice,omitempty"` // 每颗骰子的点数
	Value int    `json:"value"`          // 未带符号的本项结果
}

// Result 一次掷骰的结果
type Result struct {
	Formula string `json:"formula"`
	Total   int    `json:"total"`
	Terms   []Term `json:"terms"`
}

// Dice 展开所有骰子点数
func (r *Result) Dice() []int {
	var out []int
	for _, t := range r.Terms {
		out = append(out, t.Dice...)
	}
	return out
}

// Roller 掷骰器，可并发使用
type Roller struct {
	mu  sync.Mutex
	src Source
}

// NewRoller 创建掷骰器，src 为 nil 时使用基于时间的随机源
func NewRoller(src Source) *Roller {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Roller{src: src}
}

type termKind int

const (
	termDice termKind = iota
	termConst
	termRef
)

type parsedTerm struct {
	kind  termKind
	sign  int
	expr  string
	count int
	faces int
	value int
	path  string
}

// Validate 检查公式语法，不掷骰
func Validate(formula string) error {
	_, err := parse(formula)
	return err
}

// Roll 掷骰。data 为 @ 引用解析所用的 JSON（通常是角色的 system 数据），可为空
func (r *Roller) Roll(formula string, data []byte) (*Result, error) {
	terms, err := parse(formula)
	if err != nil {
		return nil, err
	}

	res := &Result{Formula: strings.Join(strings.Fields(formula), ""), Terms: make([]Term, 0, len(terms))}
	for _, pt := range terms {
		t := Term{Expr: pt.expr, Sign: pt.sign}
		switch pt.kind {
		case termDice:
			t.Dice = r.rollDice(pt.count, pt.faces)
			for _, d := range t.Dice {
				t.Value += d
			}
		case termConst:
			t.Value = pt.value
		case termRef:
			v := gjson.GetBytes(data, pt.path)
			if !v.Exists() || (v.Type != gjson.Number && v.Type != gjson.String) {
				return nil, errors.NewValidationError(fmt.Sprintf("无法解析数据引用: @%s", pt.path), nil)
			}
			n, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
			if err != nil {
				return nil, errors.NewValidationError(fmt.Sprintf("数据引用不是数字: @%s", pt.path), err)
			}
			t.Value = int(n)
		}
		res.Total += t.Sign * t.Value
		res.Terms = append(res.Terms, t)
	}
	return res, nil
}

func (r *Roller) rollDice(count, faces int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, count)
	for i := range out {
		out[i] = r.src.Intn(faces) + 1
	}
	return out
}

// parse 解析 "2d6 + @str.value - 1" 形式的公式
func parse(formula string) ([]parsedTerm, error) {
	s := strings.Join(strings.Fields(formula), "")
	if s == "" {
		return nil, errors.NewValidationError("公式不能为空", nil)
	}

	var terms []parsedTerm
	sign := 1
	i := 0
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			sign = -1
		}
		i++
	}

	for {
		j := i
		for j < len(s) && s[j] != '+' && s[j] != '-' {
			j++
		}
		if j == i {
			return nil, errors.NewValidationError(fmt.Sprintf("公式格式错误: %q", formula), nil)
		}

		t, err := parseTerm(s[i:j])
		if err != nil {
			return nil, err
		}
		t.sign = sign
		terms = append(terms, t)

		if j == len(s) {
			break
		}
		sign = 1
		if s[j] == '-' {
			sign = -1
		}
		i = j + 1
	}
	return terms, nil
}

func parseTerm(expr string) (parsedTerm, error) {
	t := parsedTerm{expr: expr}

	if strings.HasPrefix(expr, "@") {
		path := expr[1:]
		if path == "" || strings.ContainsAny(path, "*?#|") {
			return t, errors.NewValidationError(fmt.Sprintf("无效的数据引用: %q", expr), nil)
		}
		t.kind = termRef
		t.path = path
		return t, nil
	}

	lower := strings.ToLower(expr)
	if idx := strings.IndexByte(lower, 'd'); idx >= 0 {
		count := 1
		if idx > 0 {
			n, err := strconv.Atoi(lower[:idx])
			if err != nil {
				return t, errors.NewValidationError(fmt.Sprintf("无效的骰子数量: %q", expr), err)
			}
			count = n
		}
		faces, err := strconv.Atoi(lower[idx+1:])
		if err != nil {
			return t, errors.NewValidationError(fmt.Sprintf("无效的骰子面数: %q", expr), err)
		}
		if count < 1 || count > MaxDiceCount {
			return t, errors.NewValidationError(fmt.Sprintf("骰子数量必须在 1 到 %d 之间: %q", MaxDiceCount, expr), nil)
		}
		if faces < 1 || faces > MaxDiceFaces {
			return t, errors.NewValidationError(fmt.Sprintf("骰子面数必须在 1 到 %d 之间: %q", MaxDiceFaces, expr), nil)
		}
		t.kind = termDice
		t.count = count
		t.faces = faces
		return t, nil
	}

	n, err := strconv.Atoi(expr)
	if err != nil {
		return t, errors.NewValidationError(fmt.Sprintf("无法识别的公式项: %q", expr), err)
	}
	t.kind = termConst
	t.value = n
	return t, nil
}
