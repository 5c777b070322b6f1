package api

import "net/http"

func (s *Server) dispatchTick(w http.ResponseWriter, r *http.Request) {
	result, err := s.Dispatcher.RunFastTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) dispatchBatchTick(w http.ResponseWriter, r *http.Request) {
	result, err := s.Dispatcher.RunBatchTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) expireOffers(w http.ResponseWriter, r *http.Request) {
	result, err := s.Offers.ExpireOffers(r.Context(), 500)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
