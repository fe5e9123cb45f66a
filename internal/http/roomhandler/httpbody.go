package roomhandler

type AddMemberBody struct {
	UserID int64 `json:"user_id" binding:"required,gt=0" example:"42"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type UserListResponse struct {
	Users []int64 `json:"users"`
}

type ListMessagesQuery struct {
	Limit  int `form:"limit,default=50"  binding:"gte=0,lte=100"`
	Offset int `form:"offset,default=0"  binding:"gte=0"`
}
