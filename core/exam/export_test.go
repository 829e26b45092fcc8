package exam

import "time"

func (svc *Service) SetClock(now func() time.Time) { svc.now = now }
