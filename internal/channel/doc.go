// Package channel 定义需要归档的 conda 频道列表、平台子目录，
// 以及频道 URL 到本地输出目录的映射规则。
//
// 输出目录沿用 fetch-repodata 的布局：对 "{channel}/{subdir}" 做百分号编码
// （保留 "/"），再把 "//" 替换为 "%2F/"，保证 URL 的协议部分也能落到单层目录中。
package channel
