package extraction

// AccumulateUsage 将一组分块用量做字段级求和。
// 纯函数：对求和而言与顺序无关、可重复执行；
// 缺失用量的分块按零参与求和，并将聚合标记降级为 partial。
// 空输入或全部缺失时返回零用量并标记 unavailable。
func AccumulateUsage(chunks []ChunkResult) TokenUsage {
	total := TokenUsage{Availability: UsageUnavailable}

	present := 0
	degraded := false
	for _, cr := range chunks {
		if cr.Usage == nil {
			degraded = true
			continue
		}
		present++
		total.PromptTokens += cr.Usage.PromptTokens
		total.CompletionTokens += cr.Usage.CompletionTokens
		total.TotalTokens += cr.Usage.TotalTokens
		if cr.Usage.Availability == UsagePartial {
			degraded = true
		}
		total.PromptTokensDetails = mergeDetails(total.PromptTokensDetails, cr.Usage.PromptTokensDetails)
		total.CompletionTokensDetails = mergeDetails(total.CompletionTokensDetails, cr.Usage.CompletionTokensDetails)
	}

	if present == 0 {
		return TokenUsage{Availability: UsageUnavailable}
	}
	if degraded {
		total.Availability = UsagePartial
	} else {
		total.Availability = UsageAvailable
	}
	return total
}

func mergeDetails(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}
