package i18n

// ZhCNMessages 简体中文消息目录 / Simplified Chinese message catalog
var ZhCNMessages = map[string]string{
	// UI - Panel titles
	"panel.chat":     "对话",
	"panel.sessions": "会话",
	"panel.logs":     "日志",

	// UI - Sidebar
	"sidebar.model":   "模型",
	"sidebar.session": "会话",
	"sidebar.folder":  "文件夹",
	"sidebar.context": "上下文",

	// UI - Status bar
	"status.ready":     "就绪",
	"status.streaming": "生成中...",
	"status.cancelled": "已取消生成",
	"status.busy":      "当前回复尚未完成",

	// UI - Input
	"input.placeholder": "输入消息... (Shift+Enter 换行)",

	// UI - Keybindings
	"keys.tab":  "tab 切换",
	"keys.esc":  "esc 取消",
	"keys.quit": "ctrl+c 退出",

	// Commands
	"cmd.help":     "显示可用命令",
	"cmd.new":      "新建对话",
	"cmd.sessions": "列出已保存的对话",
	"cmd.open":     "打开对话",
	"cmd.delete":   "删除对话",
	"cmd.rename":   "重命名对话",
	"cmd.model":    "切换模型",
	"cmd.theme":    "切换主题",
	"cmd.attach":   "添加文件或 URL 附件",
	"cmd.search":   "搜索对话",
	"cmd.folder":   "管理文件夹",
	"cmd.export":   "导出对话",
	"cmd.cancel":   "取消当前回复",
	"cmd.quit":     "退出应用",

	// Errors and notices
	"error.provider":    "模型错误: %s",
	"error.network":     "网络错误: %s",
	"error.storage":     "保存失败: %s",
	"error.not_found":   "未找到: %s",
	"error.busy":        "请等待当前回复完成",
	"attach.rejected":   "附件已丢弃 (%s): %s",
	"attach.pending":    "%d 个附件待发送",
	"export.done":       "已导出至 %s",
	"session.new":       "新对话: %s",
	"session.opened":    "已打开: %s",
	"session.deleted":   "已删除: %s",
	"session.renamed":   "已重命名: %s",
	"session.none":      "还没有对话",
	"folder.created":    "已创建文件夹: %s",
	"folder.renamed":    "已重命名文件夹: %s",
	"folder.deleted":    "已删除文件夹",
	"folder.moved":      "会话已移动",
	"model.switched":    "模型已切换为: %s",
	"theme.switched":    "主题已切换为: %s",
	"context.tokens":    "Token: 约 %d (%s)",
	"context.precise":   "精确",
	"context.estimated": "估算",
}
