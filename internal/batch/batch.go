package batch

import (
	"errors"

	"parabatch/pkg/contract"
)

// Limits: 单次请求的条目数与词数上限。
type Limits struct {
	MaxItems int
	MaxWords int
}

// Validate 要求两个上限均为正。
func (l Limits) Validate() error {
	if l.MaxItems <= 0 || l.MaxWords <= 0 {
		return errors.New("batch: max items and max words must be > 0")
	}
	return nil
}

// Take 从 start 起贪心取批：
// - 首个条目总是接纳（单条超限也独占一批，保证前进）；
// - 达到条目上限，或再加下一条会超出词数上限时停止；
// - 不跳过、不重排。返回批内条目与下一个起点。
func Take(items []*contract.WorkItem, start int, lim Limits) ([]*contract.WorkItem, int) {
	if start < 0 {
		start = 0
	}
	if start >= len(items) {
		return nil, start
	}
	words := 0
	end := start
	for end < len(items) && (lim.MaxItems <= 0 || end-start < lim.MaxItems) {
		w := items[end].Words
		if end > start && words+w > lim.MaxWords {
			break
		}
		words += w
		end++
	}
	if end == start {
		end = start + 1
	}
	return items[start:end:end], end
}

// Queue: 带游标的待处理队列。批序号从 1 递增。
type Queue struct {
	items []*contract.WorkItem
	pos   int
	index int
}

// NewQueue 构造队列（不复制条目指针以外的内容）。
func NewQueue(items []*contract.WorkItem) *Queue {
	return &Queue{items: items}
}

// Len 返回剩余条目数。
func (q *Queue) Len() int { return len(q.items) - q.pos }

// Next 取下一批；队列为空时 ok=false。
func (q *Queue) Next(lim Limits) (contract.Batch, bool) {
	if q.Len() == 0 {
		return contract.Batch{}, false
	}
	items, next := Take(q.items, q.pos, lim)
	q.pos = next
	q.index++
	return contract.Batch{Index: q.index, Items: items}, true
}

// Unread 将最近一批尾部的 n 个条目退回队首（护栏回退）。
func (q *Queue) Unread(n int) {
	if n <= 0 {
		return
	}
	if n > q.pos {
		n = q.pos
	}
	q.pos -= n
}

// Distribute 将批按词数均衡分配给账户：
// 依次把条目交给当前词数最少的账户（并列时条目数少者优先，再按列表顺序）。
// 未知账户被过滤，过滤后为空时使用 acc1；空桶不输出；输出顺序跟随账户列表。
func Distribute(items []*contract.WorkItem, accounts []contract.AccountKey) []contract.AccountChunk {
	keys := make([]contract.AccountKey, 0, len(accounts))
	seen := make(map[contract.AccountKey]bool, len(accounts))
	for _, k := range accounts {
		if k.Valid() && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	if len(keys) == 0 {
		keys = []contract.AccountKey{contract.AccountKeys[0]}
	}
	buckets := make([][]*contract.WorkItem, len(keys))
	words := make([]int, len(keys))
	for _, it := range items {
		target := 0
		for i := 1; i < len(keys); i++ {
			if words[i] < words[target] || (words[i] == words[target] && len(buckets[i]) < len(buckets[target])) {
				target = i
			}
		}
		buckets[target] = append(buckets[target], it)
		words[target] += it.Words
	}
	out := make([]contract.AccountChunk, 0, len(keys))
	for i, k := range keys {
		if len(buckets[i]) > 0 {
			out = append(out, contract.AccountChunk{Account: k, Items: buckets[i]})
		}
	}
	return out
}

// Conserved 检查分块的多重集合并恰为 items，且每块内保持批内相对顺序。
func Conserved(items []*contract.WorkItem, chunks []contract.AccountChunk) bool {
	pos := make(map[*contract.WorkItem]int, len(items))
	for i, it := range items {
		if _, dup := pos[it]; dup {
			return false
		}
		pos[it] = i
	}
	seen := make(map[*contract.WorkItem]bool, len(items))
	total := 0
	for _, c := range chunks {
		last := -1
		for _, it := range c.Items {
			p, ok := pos[it]
			if !ok || seen[it] || p <= last {
				return false
			}
			seen[it] = true
			last = p
			total++
		}
	}
	return total == len(items)
}

// TrimTail 在多于一条且总词数超过 maxWords 时从尾部弹出条目。
// 返回保留部分与被弹出的条目数。
func TrimTail(items []*contract.WorkItem, maxWords int) ([]*contract.WorkItem, int) {
	words := 0
	for _, it := range items {
		words += it.Words
	}
	end := len(items)
	for end > 1 && words > maxWords {
		end--
		words -= items[end].Words
	}
	return items[:end:end], len(items) - end
}
