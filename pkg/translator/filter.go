package translator

import (
	"strings"
	"sync"
)

// noisePatternsExact are recognizer outputs that whole-match typical
// hallucinations on silence or breathing. 完全一致でノイズ扱い
var noisePatternsExact = []string{
	"by h", "by h.", "bye", "by.", "h.", "h",
	"the", "a", "i", "you",
	"uh", "um", "ah", "oh", "hmm", "hm", "mm", "mhm",
	"thank you", "thanks", "okay", "ok", "yes", "no", "yeah", "yep",
	"so", "and", "but", "or",
	"...", "。。。", "・・・", "…", "、", "。", ".", ",", "-", "—",
	"はい", "うん", "ええ", "あー", "えー", "んー", "ん", "あ", "え", "お",
	"嗯", "哦", "啊", "好的", "是的", "谢谢", "再见",
}

// mediaNoiseKeywords betray video-caption training data leaking into the
// transcript; partial match is enough. 部分一致でノイズ扱い
var mediaNoiseKeywords = []string{
	"amara.org", "社群提供", "字幕",
	"订阅", "訂閱", "点赞", "點贊", "关注", "關注",
	"转发", "轉發", "打赏", "打賞", "明镜", "明鏡",
	"チャンネル登録", "高評価", "ご視聴", "ありがとう",
	"感谢观看", "感謝收看", "感謝觀看",
	"支持本频道", "支持本頻道", "欢迎订阅", "歡迎訂閱",
	"like and subscribe", "subscribe",
	"更多的消息", "更多消息", "請搜尋", "请搜寻",
	"時尚高潮", "时尚高潮", "本台立場", "本台立场",
	"以上言論", "以上言论", "多謝收看", "多谢收看",
	"敬請期待", "敬请期待", "下期再見", "下期再见",
	"記得訂閱", "记得订阅",
}

// NoiseFilter screens recognizer output. Both lists can grow at runtime,
// so access is guarded the same way across readers and writers.
type NoiseFilter struct {
	mu       sync.RWMutex
	exact    map[string]struct{}
	keywords []string
}

func NewNoiseFilter() *NoiseFilter {
	f := &NoiseFilter{
		exact:    make(map[string]struct{}, len(noisePatternsExact)),
		keywords: append([]string(nil), mediaNoiseKeywords...),
	}
	for _, p := range noisePatternsExact {
		f.exact[strings.TrimSpace(strings.ToLower(p))] = struct{}{}
	}
	return f
}

// AddExact registers an additional whole-match pattern.
func (f *NoiseFilter) AddExact(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact[strings.TrimSpace(strings.ToLower(pattern))] = struct{}{}
}

// AddKeyword registers an additional partial-match keyword.
func (f *NoiseFilter) AddKeyword(keyword string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywords = append(f.keywords, strings.ToLower(keyword))
}

// IsNoise reports whether the recognized text should be discarded.
func (f *NoiseFilter) IsNoise(text string) bool {
	if text == "" {
		return true
	}

	// 3文字以下は無条件でノイズ
	if len([]rune(text)) <= 3 {
		return true
	}

	clean := strings.ToLower(text)
	clean = strings.Trim(clean, " \t\n.,!?-—")

	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, ok := f.exact[clean]; ok {
		return true
	}

	// Repeated single characters, e.g. "あああああ"
	if distinctRunes(strings.ReplaceAll(text, " ", "")) <= 2 {
		return true
	}

	for _, kw := range f.keywords {
		if strings.Contains(clean, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func distinctRunes(s string) int {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		set[r] = struct{}{}
	}
	return len(set)
}
