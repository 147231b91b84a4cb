package rules

// RuleID 规则标识
type RuleID string

// 规则匹配模式
const (
	ModeAggregate    = "aggregate"
	ModeShortCircuit = "short_circuit"
)

// RuleSet 规则集
type RuleSet struct {
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// Rule 单条规则
type Rule struct {
	ID       RuleID `json:"id"`
	Name     string `json:"name,omitempty"`
	Priority int    `json:"priority"`
	Mode     string `json:"mode,omitempty"`
	Match    Match  `json:"match"`
	Action   Action `json:"action"`
}

// Match 条件组合，三组同时满足才算命中
type Match struct {
	AllOf  []Condition `json:"allOf,omitempty"`
	AnyOf  []Condition `json:"anyOf,omitempty"`
	NoneOf []Condition `json:"noneOf,omitempty"`
}

// Condition 单个匹配条件
//
// Type 取值 url / method / resource_type / header / query / cookie / text / json。
// url 条件按 Mode（glob / prefix / exact / regex）比较 Pattern；
// 其余键值条件按 Op（equals / contains / regex，空表示仅要求存在）比较 Value。
// json 条件的 Path 为 gjson 路径。
type Condition struct {
	Type    string   `json:"type"`
	Mode    string   `json:"mode,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Values  []string `json:"values,omitempty"`
	Key     string   `json:"key,omitempty"`
	Op      string   `json:"op,omitempty"`
	Value   string   `json:"value,omitempty"`
	Path    string   `json:"path,omitempty"`
}

// Action 命中后的动作
type Action struct {
	DelayMS int      `json:"delayMS,omitempty"`
	Respond *Respond `json:"respond,omitempty"`
	Fail    *Fail    `json:"fail,omitempty"`
}

// Respond 以模拟响应应答
type Respond struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Patches 依次以 sjson 写入 Body
	Patches []Patch `json:"patches,omitempty"`
}

// Patch JSON 响应体的一次写入，Value 为空时删除该路径
type Patch struct {
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Fail 让请求失败
type Fail struct {
	Reason string `json:"reason,omitempty"`
}

// Stats 规则命中统计
type Stats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}
