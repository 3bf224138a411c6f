package nostd

// TruncateString 截断字符串，用于日志与通知输出
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
