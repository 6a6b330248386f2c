package types

// ApprovalResponse 外部审批信号载荷
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// AsResumeValue 转换为传给图引擎的恢复值
func (r *ApprovalResponse) AsResumeValue() map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"approved": r.Approved,
		"feedback": r.Feedback,
	}
}
