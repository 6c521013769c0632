// repodata-archive 定时抓取 conda 频道的 repodata.json，并以带版本标签的 git 提交归档。
package main

import (
	"github.com/mbargull/bioconda-repodata-archive/cmd"
)

// main 是程序的入口函数，负责启动 CLI 命令执行。
func main() {
	cmd.Execute()
}
