package cache

import "fmt"

// 键语义：
// - EntityKey(messageID, nodeID): 响应记录（Hash）
//   - 字段 "__part":       bulk 导入时的 summary part 锚点 id（String）
//   - 字段 "sender:<id>":  该参与者的有序操作日志（JSON 数组）
//
// 为何要用{}包住：Redis Cluster 只对 {} 内部做 CRC16 哈希，
// 同一个 (message, node) 的所有访问落在同一个 slot 上，Lua 脚本才能原子执行。

const keyEntityFmt = "responses:{%s:%s}"

func EntityKey(messageID, nodeID string) string {
	return fmt.Sprintf(keyEntityFmt, messageID, nodeID)
}
