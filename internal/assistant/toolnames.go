package assistant

import "container/list"

// toolNameCacheCap bounds the tool-use id map. Long sessions emit thousands
// of tool uses; results always refer to a recent one.
const toolNameCacheCap = 200

type toolUseInfo struct {
	id      string
	name    string
	command string // shell command for background-capable tools
}

// toolNameCache is a small LRU from tool_use_id to the issuing tool.
type toolNameCache struct {
	cap   int
	order *list.List
	byID  map[string]*list.Element
}

func newToolNameCache(cap int) *toolNameCache {
	return &toolNameCache{
		cap:   cap,
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

func (c *toolNameCache) put(id, name, command string) {
	if id == "" {
		return
	}
	if el, ok := c.byID[id]; ok {
		el.Value = toolUseInfo{id: id, name: name, command: command}
		c.order.MoveToFront(el)
		return
	}
	c.byID[id] = c.order.PushFront(toolUseInfo{id: id, name: name, command: command})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.byID, oldest.Value.(toolUseInfo).id)
	}
}

func (c *toolNameCache) get(id string) (toolUseInfo, bool) {
	el, ok := c.byID[id]
	if !ok {
		return toolUseInfo{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(toolUseInfo), true
}
