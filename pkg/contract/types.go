package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// ItemID: 工作项在源文档中的位置标识（段落序号或记录 id），单文档内唯一。
type ItemID int64

// AccountKey: 远端账户标识，闭集。
type AccountKey string

const (
	Acc1 AccountKey = "acc1"
	Acc2 AccountKey = "acc2"
	Acc3 AccountKey = "acc3"
)

// AccountKeys: 固定顺序的全部账户；回退顺序与默认账户均以此为准。
var AccountKeys = []AccountKey{Acc1, Acc2, Acc3}

// Valid 判断 k 是否属于已知账户集合。
func (k AccountKey) Valid() bool {
	for _, a := range AccountKeys {
		if a == k {
			return true
		}
	}
	return false
}

// Mode: 改写模式，闭集。
type Mode string

const (
	ModeDual      Mode = "dual"
	ModeStandard  Mode = "standard"
	ModeLudicrous Mode = "ludicrous"
)

// Modes: 全部已知模式。
var Modes = []Mode{ModeDual, ModeStandard, ModeLudicrous}

// WorkItem: 单个待改写文本单元。
// 约束：
// - ID/Text/Words 创建后不变；
// - 改写结果由对账引擎通过 Resolve 写入且仅写一次。
type WorkItem struct {
	ID    ItemID
	Text  string
	Words int

	resolved string
	done     bool
}

// NewWorkItem 规范化文本并计算词数。
func NewWorkItem(id ItemID, text string) *WorkItem {
	t := Sanitize(text)
	return &WorkItem{ID: id, Text: t, Words: CountWords(t)}
}

// Resolve 写入改写结果；重复写入返回 ErrInvariantViolation。
func (w *WorkItem) Resolve(text string) error {
	if w.done {
		return ErrInvariantViolation
	}
	w.resolved = text
	w.done = true
	return nil
}

// Resolved 返回改写结果及是否已写入。
func (w *WorkItem) Resolved() (string, bool) { return w.resolved, w.done }

// Batch: 一次出站请求承载的有序工作项。
type Batch struct {
	// Index: 请求序号（1..n），仅用于日志与摘要。
	Index int
	Items []*WorkItem
}

// Words 返回批内总词数。
func (b Batch) Words() int { return sumWords(b.Items) }

// AccountChunk: 分配给单个账户的批内子序列（保持批内相对顺序）。
type AccountChunk struct {
	Account AccountKey
	Items   []*WorkItem
}

// Words 返回子块总词数。
func (c AccountChunk) Words() int { return sumWords(c.Items) }

// Document: 拆分器产物。
// Paragraphs 为文档全部段落（含不参与改写的段落），记录型输入为 nil；
// Items 为可改写项，ID 对应 Paragraphs 下标（记录型输入为记录 id）。
type Document struct {
	FileID     FileID
	Paragraphs []string
	Items      []*WorkItem
}

// Words 返回可改写项总词数。
func (d Document) Words() int { return sumWords(d.Items) }

func sumWords(items []*WorkItem) int {
	n := 0
	for _, it := range items {
		n += it.Words
	}
	return n
}
